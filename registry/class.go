// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"context"
	"reflect"
	"strings"

	"github.com/juju/errors"
)

// Class is a template clients may instantiate by name.
type Class struct {
	name  string
	typ   reflect.Type
	ctors []*Method
}

// NewClass returns a class called name producing values like sample. Each
// ctor is a function, optionally taking a leading context.Context, that
// returns the new object and optionally an error. Without a nullary ctor,
// instantiation with no arguments allocates a zero value.
func NewClass(name string, sample interface{}, ctors ...interface{}) (*Class, error) {
	if name == "" {
		return nil, errors.NotValidf("empty class name")
	}
	t := reflect.TypeOf(sample)
	if t == nil {
		return nil, errors.NotValidf("nil sample for class %q", name)
	}
	c := &Class{name: name, typ: t}
	for i, ctor := range ctors {
		m, err := newMethod(name, reflect.ValueOf(ctor), 0)
		if err != nil {
			return nil, errors.Annotatef(err, "constructor %d of %q", i, name)
		}
		if m.Void() {
			return nil, errors.NotValidf("constructor %d of %q without a result", i, name)
		}
		c.ctors = append(c.ctors, m)
	}
	return c, nil
}

// MustNewClass is like NewClass but panics on error.
func MustNewClass(name string, sample interface{}, ctors ...interface{}) *Class {
	c, err := NewClass(name, sample, ctors...)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the class name.
func (c *Class) Name() string {
	return c.name
}

// Type returns the type of the class sample.
func (c *Class) Type() reflect.Type {
	return c.typ
}

// Instantiate builds a new object from args.
func (c *Class) Instantiate(ctx context.Context, tagger TypeTagger, tags []string, args []interface{}) (interface{}, error) {
	for _, ctor := range c.ctors {
		if ctor.Accepts(tagger, tags) {
			obj, err := ctor.Call(ctx, nil, args)
			if err != nil {
				return nil, err
			}
			if isNil(obj) {
				return nil, &InvocationError{Method: c.name, Err: errors.New("constructor returned nil")}
			}
			return obj, nil
		}
	}
	if len(args) == 0 {
		base := c.typ
		if base.Kind() == reflect.Ptr {
			base = base.Elem()
		}
		return reflect.New(base).Interface(), nil
	}
	return nil, errors.NotFoundf("constructor %s(%s)", c.name, strings.Join(tags, ", "))
}

// isNil reports whether obj is nil or a nil pointer, map, slice, func or
// channel held in an interface.
func isNil(obj interface{}) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
