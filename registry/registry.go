// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry keeps the services and instantiatable classes a GXO
// server exposes, and resolves methods on them.
//
// Services are published under every declared interface their type
// implements, directly or through embedded types. Go interfaces are
// implicit, so the interfaces a server exposes must be declared on the
// Catalog first.
package registry

import (
	"reflect"
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("gxo.registry")

// Registry maps interface names to services and class names to classes.
// It is safe for concurrent use.
type Registry struct {
	catalog *Catalog

	mu       sync.RWMutex
	services map[string]interface{}
	classes  map[string]*Class
}

// New returns an empty registry backed by catalog.
func New(catalog *Catalog) *Registry {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Registry{
		catalog:  catalog,
		services: make(map[string]interface{}),
		classes:  make(map[string]*Class),
	}
}

// Catalog returns the catalog the registry resolves interfaces with.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// RegisterService publishes obj under each declared interface it
// implements and returns those names. A later registration for the same
// interface replaces the earlier one.
func (r *Registry) RegisterService(obj interface{}) ([]string, error) {
	if obj == nil {
		return nil, errors.NotValidf("nil service")
	}
	names := r.catalog.Describe(reflect.TypeOf(obj)).Interfaces
	if len(names) == 0 {
		return nil, errors.NotValidf("service %T implementing no declared interface", obj)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if old, ok := r.services[name]; ok && !sameObject(old, obj) {
			logger.Warningf("service %s: replacing %T with %T", name, old, obj)
		}
		r.services[name] = obj
	}
	logger.Debugf("registered %T as %v", obj, names)
	return names, nil
}

// UnregisterService removes obj from the interfaces it was published under.
// An interface that has since been taken over by another object is left
// alone.
func (r *Registry) UnregisterService(obj interface{}) []string {
	if obj == nil {
		return nil
	}
	names := r.catalog.Describe(reflect.TypeOf(obj)).Interfaces
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for _, name := range names {
		if current, ok := r.services[name]; ok && sameObject(current, obj) {
			delete(r.services, name)
			removed = append(removed, name)
		}
	}
	logger.Debugf("unregistered %T from %v", obj, removed)
	return removed
}

// RegisterInstantiatable makes cls available to Init under its name and
// under each declared interface its type implements. A later class
// registered under the same key replaces the earlier one.
func (r *Registry) RegisterInstantiatable(cls *Class) error {
	if cls == nil {
		return errors.NotValidf("nil class")
	}
	keys := r.classKeys(cls)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		if old, ok := r.classes[key]; ok && old != cls {
			logger.Warningf("instantiatable %s: replacing class %s", key, old.Name())
		}
		r.classes[key] = cls
	}
	logger.Debugf("registered instantiatable %s as %v", cls.Name(), keys)
	return nil
}

// UnregisterInstantiatable removes cls from the keys it was registered
// under. Keys since taken over by another class are left alone. It reports
// whether any key was removed.
func (r *Registry) UnregisterInstantiatable(cls *Class) bool {
	if cls == nil {
		return false
	}
	keys := r.classKeys(cls)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := false
	for _, key := range keys {
		if current, ok := r.classes[key]; ok && current == cls {
			delete(r.classes, key)
			removed = true
		}
	}
	return removed
}

// classKeys returns the class name followed by the declared interfaces of
// the class type.
func (r *Registry) classKeys(cls *Class) []string {
	keys := []string{cls.Name()}
	for _, name := range r.catalog.Describe(cls.Type()).Interfaces {
		if name != cls.Name() {
			keys = append(keys, name)
		}
	}
	return keys
}

// Service returns the object published under the interface name.
func (r *Registry) Service(name string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.services[name]
	return obj, ok
}

// Instantiatable returns the class registered under name, which is either
// a class name or a declared interface name.
func (r *Registry) Instantiatable(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cls, ok := r.classes[name]
	return cls, ok
}

// Services returns the published interface names, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.services)
}

// Instantiatables returns the names classes are registered under, sorted.
func (r *Registry) Instantiatables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves method on obj for arguments with the given tags.
func (r *Registry) Lookup(tagger TypeTagger, obj interface{}, method string, tags []string) (*Method, error) {
	return r.catalog.Describe(reflect.TypeOf(obj)).Lookup(tagger, method, tags)
}

func sortedKeys(m map[string]interface{}) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sameObject compares registered objects by identity.
func sameObject(a, b interface{}) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	return false
}
