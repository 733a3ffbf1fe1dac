// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serializer

import (
	"reflect"
	"time"

	"github.com/juju/errors"
)

// Converter takes over the wire form of the types it accepts. The value
// returned by ToWire is itself serialized, so it may be any supported value.
type Converter interface {
	// Alias is the wire tag of converted values.
	Alias() string

	// CanConvert reports whether values of t are handled by the converter.
	CanConvert(t reflect.Type) bool

	// Type is the Go type a converted value decodes to when the destination
	// is an interface{}.
	Type() reflect.Type

	// ToWire returns the wire payload for v.
	ToWire(v reflect.Value) (interface{}, error)

	// FromWire rebuilds a value of type t from a decoded payload.
	FromWire(payload interface{}, t reflect.Type) (reflect.Value, error)
}

// ConverterProvider registers extra converters or aliases on a serializer.
// Providers are replayed, in registration order, whenever the serializer they
// were applied to is replaced.
type ConverterProvider interface {
	RegisterConverters(s *Serializer) error
}

// SerializerProvider supplies a complete replacement serializer.
type SerializerProvider interface {
	NewSerializer() *Serializer
}

// ConverterProviderFunc adapts a function to ConverterProvider.
type ConverterProviderFunc func(s *Serializer) error

// RegisterConverters implements ConverterProvider.
func (f ConverterProviderFunc) RegisterConverters(s *Serializer) error {
	return f(s)
}

// DateConverter collapses every date-like type onto the DateAlias tag:
// time.Time, pointers to it and named struct types convertible to it.
type DateConverter struct{}

// Alias implements Converter.
func (DateConverter) Alias() string { return DateAlias }

// Type implements Converter.
func (DateConverter) Type() reflect.Type { return timeType }

// CanConvert implements Converter.
func (DateConverter) CanConvert(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t.ConvertibleTo(timeType)
}

// ToWire implements Converter.
func (DateConverter) ToWire(v reflect.Value) (interface{}, error) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	t := v.Convert(timeType).Interface().(time.Time)
	return t.Format(time.RFC3339Nano), nil
}

// FromWire implements Converter.
func (DateConverter) FromWire(payload interface{}, t reflect.Type) (reflect.Value, error) {
	s, ok := payload.(string)
	if !ok {
		return reflect.Value{}, errors.Errorf("date payload is %T, not a string", payload)
	}
	when, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return reflect.Value{}, errors.Trace(err)
	}
	v := reflect.ValueOf(when)
	switch {
	case t.Kind() == reflect.Interface:
		return v, nil
	case t.Kind() == reflect.Ptr:
		p := reflect.New(t.Elem())
		p.Elem().Set(v.Convert(t.Elem()))
		return p, nil
	}
	return v.Convert(t), nil
}
