// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/juju/errors"
)

// InvocationError wraps the failure of a method or constructor, including
// a panic. The server reports the wrapped error, not the wrapper.
type InvocationError struct {
	Method string
	Err    error
}

// Error implements error.
func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoking %s: %v", e.Method, e.Err)
}

// Unwrap returns the error raised by the method.
func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Method is a callable function: a method with its receiver first, or a
// constructor.
type Method struct {
	Name string

	fn         reflect.Value
	skip       int
	withCtx    bool
	params     []reflect.Type
	result     reflect.Type
	returnsErr bool
}

// newMethod checks the shape of fn. The first skip inputs are supplied by
// the caller of Call (the receiver), then an optional context.Context, then
// the wire parameters. Allowed results are (), (R), (error) and (R, error).
func newMethod(name string, fn reflect.Value, skip int) (*Method, error) {
	ft := fn.Type()
	if ft.Kind() != reflect.Func {
		return nil, errors.NotValidf("%s of kind %s", name, ft.Kind())
	}
	if ft.IsVariadic() {
		return nil, errors.NotSupportedf("variadic %s", name)
	}
	m := &Method{Name: name, fn: fn, skip: skip}
	in := skip
	if ft.NumIn() > in && ft.In(in) == contextType {
		m.withCtx = true
		in++
	}
	for ; in < ft.NumIn(); in++ {
		m.params = append(m.params, ft.In(in))
	}
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			m.returnsErr = true
		} else {
			m.result = ft.Out(0)
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, errors.NotValidf("%s with second result %s", name, ft.Out(1))
		}
		m.result = ft.Out(0)
		m.returnsErr = true
	default:
		return nil, errors.NotValidf("%s with %d results", name, ft.NumOut())
	}
	return m, nil
}

// Void reports whether the method returns no value.
func (m *Method) Void() bool {
	return m.result == nil
}

// Params returns the Go parameter types, without receiver or context.
func (m *Method) Params() []reflect.Type {
	return append([]reflect.Type(nil), m.params...)
}

// Signature describes the method with wire tags, for messages.
func (m *Method) Signature(tagger TypeTagger) string {
	tags := make([]string, len(m.params))
	for i, p := range m.params {
		tags[i] = tagger.TypeTag(p)
	}
	return m.Name + "(" + strings.Join(tags, ", ") + ")"
}

// Accepts reports whether arguments with the given tags can be passed to
// the method. Every tag must equal the tag of its parameter: a nil or an
// argument for an interface parameter is sent with its type pinned.
func (m *Method) Accepts(tagger TypeTagger, tags []string) bool {
	if len(tags) != len(m.params) {
		return false
	}
	for i, p := range m.params {
		if tags[i] != tagger.TypeTag(p) {
			return false
		}
	}
	return true
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// Call invokes the method. prefix holds the leading inputs, the receiver
// for a method. Failures raised by the method itself are returned as an
// *InvocationError; argument mismatches are not.
func (m *Method) Call(ctx context.Context, prefix []reflect.Value, args []interface{}) (result interface{}, err error) {
	if len(prefix) != m.skip {
		return nil, errors.Errorf("%s needs %d leading values, got %d", m.Name, m.skip, len(prefix))
	}
	if len(args) != len(m.params) {
		return nil, errors.Errorf("%s takes %d arguments, got %d", m.Name, len(m.params), len(args))
	}
	in := make([]reflect.Value, 0, m.skip+1+len(args))
	in = append(in, prefix...)
	if m.withCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, arg := range args {
		v, err := argument(arg, m.params[i])
		if err != nil {
			return nil, errors.Annotatef(err, "%s argument %d", m.Name, i)
		}
		in = append(in, v)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &InvocationError{Method: m.Name, Err: errors.Errorf("panic: %v", r)}
		}
	}()
	out := m.fn.Call(in)

	if m.returnsErr {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, &InvocationError{Method: m.Name, Err: e.Interface().(error)}
		}
	}
	if m.result == nil {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// argument converts a decoded wire value to the parameter type t.
func argument(arg interface{}, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		if !nillable(t) {
			return reflect.Value{}, errors.Errorf("nil for %s", t)
		}
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(arg)
	switch {
	case v.Type().AssignableTo(t):
		return v, nil
	case v.Kind() == t.Kind() && v.Type().ConvertibleTo(t):
		return v.Convert(t), nil
	}
	return reflect.Value{}, errors.Errorf("%s for %s", v.Type(), t)
}
