// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package serializer converts Go object graphs to and from the GXO wire
// envelope.
//
// Every value is written as a node carrying a type tag, so the receiver can
// rebuild the exact Go type even when the destination is an interface{}:
//
//	bool int int8 … uint64 float32 float64 string bytes any error
//	[]T  map[K]V  *T  <alias>
//
// Named types travel under an alias, either registered with Alias or derived
// from the Go import path. Pointers are tracked by identity, so shared and
// cyclic graphs survive a round trip. The node tree itself is encoded with
// msgpack.
package serializer

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/ugorji/go/codec"

	"github.com/luxfi/gxo/fault"
)

var logger = loggo.GetLogger("gxo.serializer")

// Wire tags with special meaning.
const (
	tagNil   = "nil"
	tagRef   = "ref"
	tagEmpty = "empty"
	tagAny   = "any"
	tagError = "error"
	tagBytes = "bytes"

	// DateAlias is the single wire alias used for every date-like type.
	DateAlias = "date"
)

var (
	anyType   = reflect.TypeOf((*interface{})(nil)).Elem()
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))

	builtins = map[string]reflect.Type{
		"bool":    reflect.TypeOf(false),
		"int":     reflect.TypeOf(int(0)),
		"int8":    reflect.TypeOf(int8(0)),
		"int16":   reflect.TypeOf(int16(0)),
		"int32":   reflect.TypeOf(int32(0)),
		"int64":   reflect.TypeOf(int64(0)),
		"uint":    reflect.TypeOf(uint(0)),
		"uint8":   reflect.TypeOf(uint8(0)),
		"uint16":  reflect.TypeOf(uint16(0)),
		"uint32":  reflect.TypeOf(uint32(0)),
		"uint64":  reflect.TypeOf(uint64(0)),
		"float32": reflect.TypeOf(float32(0)),
		"float64": reflect.TypeOf(float64(0)),
		"string":  reflect.TypeOf(""),
		tagBytes:  bytesType,
		tagAny:    anyType,
		tagError:  errorType,
	}

	// known holds named types seen by any serializer of the process under
	// their derived alias, so a second serializer can decode them.
	known sync.Map
)

// EmptyList is the value an empty []interface{} decodes to when the
// destination is an interface{}.
var EmptyList = []interface{}{}

// Serializer encodes and decodes values. It is safe for concurrent use;
// aliases and converters may be registered at any time.
type Serializer struct {
	mu         sync.RWMutex
	aliases    map[string]reflect.Type
	names      map[reflect.Type]string
	converters []Converter
	handle     *codec.MsgpackHandle
}

// New returns a serializer with the date converter and the fault types
// registered.
func New() *Serializer {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = true
	s := &Serializer{
		aliases: make(map[string]reflect.Type),
		names:   make(map[reflect.Type]string),
		handle:  h,
	}
	s.RegisterConverter(DateConverter{})
	s.Alias("fault", fault.RemoteFault{})
	s.Alias("session-expired", fault.SessionExpired{})
	return s
}

// Alias registers name as the wire alias of the type of sample. A pointer
// to an unnamed type is dereferenced, so both T{} and (*T)(nil) register T.
func (s *Serializer) Alias(name string, sample interface{}) {
	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr && t.Name() == "" {
		t = t.Elem()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.names[t]; ok && old != name {
		delete(s.aliases, old)
	}
	s.aliases[name] = t
	s.names[t] = name
}

// RegisterConverter adds c. Converters registered later take precedence
// over earlier ones for the types they both accept.
func (s *Serializer) RegisterConverter(c Converter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.converters = append(s.converters, c)
	logger.Tracef("registered converter for alias %q", c.Alias())
}

func (s *Serializer) converterFor(t reflect.Type) Converter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.converters) - 1; i >= 0; i-- {
		if s.converters[i].CanConvert(t) {
			return s.converters[i]
		}
	}
	return nil
}

func (s *Serializer) converterByAlias(alias string) Converter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.converters) - 1; i >= 0; i-- {
		if s.converters[i].Alias() == alias {
			return s.converters[i]
		}
	}
	return nil
}

func (s *Serializer) registeredName(t reflect.Type) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.names[t]
	return name, ok
}

// isRegistered reports whether t, or the type t points to, has an explicit
// alias.
func (s *Serializer) isRegistered(t reflect.Type) bool {
	if _, ok := s.registeredName(t); ok {
		return true
	}
	if t.Kind() == reflect.Ptr {
		_, ok := s.registeredName(t.Elem())
		return ok
	}
	return false
}

// TypeTag returns the wire tag for t. Two sides agree on a method or
// constructor signature when their tag lists are equal.
func (s *Serializer) TypeTag(t reflect.Type) string {
	if t == nil {
		return tagNil
	}
	if c := s.converterFor(t); c != nil {
		return c.Alias()
	}
	if name, ok := s.registeredName(t); ok {
		return name
	}
	if t.Kind() == reflect.Interface {
		switch {
		case t.NumMethod() == 0:
			return tagAny
		case t == errorType:
			return tagError
		}
		return derivedAlias(t)
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return derivedAlias(t)
	}
	switch t.Kind() {
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 && t.Elem().PkgPath() == "" {
			return tagBytes
		}
		return "[]" + s.TypeTag(t.Elem())
	case reflect.Map:
		return "map[" + s.TypeTag(t.Key()) + "]" + s.TypeTag(t.Elem())
	case reflect.Ptr:
		return "*" + s.TypeTag(t.Elem())
	}
	return t.String()
}

// derivedAlias names t by its import path and remembers it process-wide.
func derivedAlias(t reflect.Type) string {
	name := t.PkgPath() + "." + t.Name()
	known.LoadOrStore(name, t)
	return name
}

// TypeOf resolves a wire tag back to a Go type.
func (s *Serializer) TypeOf(tag string) (reflect.Type, error) {
	if t, ok := builtins[tag]; ok {
		return t, nil
	}
	switch {
	case strings.HasPrefix(tag, "[]"):
		elem, err := s.TypeOf(tag[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case strings.HasPrefix(tag, "*"):
		elem, err := s.TypeOf(tag[1:])
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(elem), nil
	case strings.HasPrefix(tag, "map["):
		end := closingBracket(tag, 3)
		if end < 0 {
			return nil, errors.Errorf("malformed map tag %q", tag)
		}
		key, err := s.TypeOf(tag[4:end])
		if err != nil {
			return nil, err
		}
		if !key.Comparable() {
			return nil, errors.Errorf("map key %s is not comparable", key)
		}
		elem, err := s.TypeOf(tag[end+1:])
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(key, elem), nil
	}
	if c := s.converterByAlias(tag); c != nil {
		return c.Type(), nil
	}
	s.mu.RLock()
	t, ok := s.aliases[tag]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}
	if t, ok := known.Load(tag); ok {
		return t.(reflect.Type), nil
	}
	return nil, errors.NotFoundf("type %q", tag)
}

// closingBracket returns the index of the ']' matching the '[' at open.
func closingBracket(tag string, open int) int {
	depth := 0
	for i := open; i < len(tag); i++ {
		switch tag[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
