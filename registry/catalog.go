// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// TypeTagger names Go types the way they travel on the wire. The serializer
// implements it.
type TypeTagger interface {
	TypeTag(t reflect.Type) string
}

// Unsecured is implemented by objects with methods that may be called
// without a valid session.
type Unsecured interface {
	UnsecuredMethods() []string
}

// Catalog holds the interfaces objects can be published under, and the
// descriptor of every concrete type seen so far.
type Catalog struct {
	mu          sync.RWMutex
	interfaces  map[string]reflect.Type
	descriptors map[reflect.Type]*Descriptor
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		interfaces:  make(map[string]reflect.Type),
		descriptors: make(map[reflect.Type]*Descriptor),
	}
}

// Declare makes the interface pointed to by ifacePtr, given as (*I)(nil),
// available under name.
func (c *Catalog) Declare(name string, ifacePtr interface{}) error {
	t := reflect.TypeOf(ifacePtr)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Interface {
		return errors.NotValidf("%T as an interface declaration", ifacePtr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.interfaces[name]; ok && old != t.Elem() {
		return errors.AlreadyExistsf("interface %q", name)
	}
	c.interfaces[name] = t.Elem()
	// Existing descriptors may now implement more interfaces.
	c.descriptors = make(map[reflect.Type]*Descriptor)
	return nil
}

// Interfaces returns the declared interface names, sorted.
func (c *Catalog) Interfaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.interfaces))
	for name := range c.interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the descriptor of t, building it on first use.
func (c *Catalog) Describe(t reflect.Type) *Descriptor {
	c.mu.RLock()
	d, ok := c.descriptors[t]
	c.mu.RUnlock()
	if ok {
		return d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.descriptors[t]; ok {
		return d
	}
	d = &Descriptor{
		Type:       t,
		Interfaces: c.implemented(t),
		methods:    methodTable(t),
	}
	c.descriptors[t] = d
	return d
}

// implemented lists the declared interfaces satisfied by t or by any type
// it embeds, however deep.
func (c *Catalog) implemented(t reflect.Type) []string {
	found := set.NewStrings()
	seen := make(map[reflect.Type]bool)
	var walk func(t reflect.Type)
	walk = func(t reflect.Type) {
		if seen[t] {
			return
		}
		seen[t] = true
		for name, iface := range c.interfaces {
			if t.Implements(iface) || (t.Kind() != reflect.Ptr && reflect.PointerTo(t).Implements(iface)) {
				found.Add(name)
			}
		}
		st := t
		if st.Kind() == reflect.Ptr {
			st = st.Elem()
		}
		if st.Kind() != reflect.Struct {
			return
		}
		for i := 0; i < st.NumField(); i++ {
			if f := st.Field(i); f.Anonymous {
				walk(f.Type)
			}
		}
	}
	walk(t)
	return found.SortedValues()
}

// Descriptor is what the registry knows about one concrete type.
type Descriptor struct {
	Type reflect.Type

	// Interfaces are the declared interface names the type implements.
	Interfaces []string

	methods map[string]*Method
}

// Methods returns the callable method names, sorted.
func (d *Descriptor) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup finds the method called name whose parameters carry exactly the
// given wire tags.
func (d *Descriptor) Lookup(tagger TypeTagger, name string, tags []string) (*Method, error) {
	m, ok := d.methods[name]
	if !ok || !m.Accepts(tagger, tags) {
		return nil, errors.NotFoundf("method %s(%s)", name, strings.Join(tags, ", "))
	}
	return m, nil
}

// methodTable collects the exported methods of t with a supported shape.
func methodTable(t reflect.Type) map[string]*Method {
	methods := make(map[string]*Method)
	for i := 0; i < t.NumMethod(); i++ {
		rm := t.Method(i)
		if rm.PkgPath != "" || rm.Name == "UnsecuredMethods" {
			continue
		}
		m, err := newMethod(rm.Name, rm.Func, 1)
		if err != nil {
			logger.Tracef("skipping %s.%s: %v", t, rm.Name, err)
			continue
		}
		methods[rm.Name] = m
	}
	return methods
}

// IsUnsecured reports whether obj marks method as callable without a
// session.
func IsUnsecured(obj interface{}, method string) bool {
	u, ok := obj.(Unsecured)
	if !ok {
		return false
	}
	return set.NewStrings(u.UnsecuredMethods()...).Contains(method)
}
