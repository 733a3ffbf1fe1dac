// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serializer

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/juju/errors"
	"github.com/ugorji/go/codec"

	"github.com/luxfi/gxo/fault"
)

// maxDepth bounds the nesting of encoded and decoded values.
const maxDepth = 512

// node is the wire form of one value. Only the fields matching the kind of
// the tagged type are set.
type node struct {
	T  string          `codec:"t"`
	ID int             `codec:"i,omitempty"`
	R  int             `codec:"r,omitempty"`
	Z  bool            `codec:"z,omitempty"`
	I  int64           `codec:"n,omitempty"`
	U  uint64          `codec:"u,omitempty"`
	F  float64         `codec:"f,omitempty"`
	S  string          `codec:"s,omitempty"`
	B  []byte          `codec:"b,omitempty"`
	L  []node          `codec:"l,omitempty"`
	M  map[string]node `codec:"m,omitempty"`
}

var nilNode = node{T: tagNil}

type ptrKey struct {
	t reflect.Type
	p uintptr
}

type encoder struct {
	s     *Serializer
	ids   map[ptrKey]int
	next  int
	depth int
}

// Encode returns the wire form of v.
func (s *Serializer) Encode(v interface{}) ([]byte, error) {
	e := &encoder{s: s, ids: make(map[ptrKey]int)}
	n, err := e.encode(reflect.ValueOf(v))
	if err != nil {
		return nil, &SerializationFault{Op: "encode", Err: err}
	}
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, s.handle).Encode(&n); err != nil {
		return nil, &SerializationFault{Op: "encode", Err: err}
	}
	return buf, nil
}

func (e *encoder) encode(v reflect.Value) (node, error) {
	if !v.IsValid() {
		return nilNode, nil
	}
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > maxDepth {
		return node{}, errors.Errorf("value nested deeper than %d", maxDepth)
	}

	t := v.Type()
	switch t.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nilNode, nil
		}
	}
	if t.Kind() == reflect.Interface {
		return e.encode(v.Elem())
	}
	if c := e.s.converterFor(t); c != nil {
		payload, err := c.ToWire(v)
		if err != nil {
			return node{}, errors.Annotatef(err, "converting %s", t)
		}
		inner, err := e.encode(reflect.ValueOf(payload))
		if err != nil {
			return node{}, errors.Trace(err)
		}
		return node{T: c.Alias(), L: []node{inner}}, nil
	}
	if t.Implements(errorType) && !e.s.isRegistered(t) {
		// The receiver cannot be expected to know this error type.
		flat := fault.Flatten(v.Interface().(error))
		return e.encode(reflect.ValueOf(flat))
	}

	tag := e.s.TypeTag(t)
	switch t.Kind() {
	case reflect.Bool:
		return node{T: tag, Z: v.Bool()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return node{T: tag, I: v.Int()}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return node{T: tag, U: v.Uint()}, nil
	case reflect.Float32, reflect.Float64:
		return node{T: tag, F: v.Float()}, nil
	case reflect.String:
		return node{T: tag, S: v.String()}, nil
	case reflect.Ptr:
		return e.encodePtr(v, tag)
	case reflect.Slice:
		if v.Len() == 0 {
			return node{T: tagEmpty, S: tag}, nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return node{T: tag, B: append([]byte(nil), v.Bytes()...)}, nil
		}
		return e.encodeList(v, tag)
	case reflect.Array:
		return e.encodeList(v, tag)
	case reflect.Map:
		if v.Len() == 0 {
			return node{T: tagEmpty, S: tag}, nil
		}
		return e.encodeMap(v, tag)
	case reflect.Struct:
		return e.encodeStruct(v, tag)
	}
	return node{}, errors.NotSupportedf("serializing %s", t)
}

func (e *encoder) encodePtr(v reflect.Value, tag string) (node, error) {
	key := ptrKey{t: v.Type(), p: v.Pointer()}
	if id, ok := e.ids[key]; ok {
		return node{T: tagRef, R: id}, nil
	}
	e.next++
	id := e.next
	e.ids[key] = id
	inner, err := e.encode(v.Elem())
	if err != nil {
		return node{}, errors.Trace(err)
	}
	return node{T: tag, ID: id, L: []node{inner}}, nil
}

func (e *encoder) encodeList(v reflect.Value, tag string) (node, error) {
	n := node{T: tag, L: make([]node, v.Len())}
	for i := 0; i < v.Len(); i++ {
		item, err := e.encode(v.Index(i))
		if err != nil {
			return node{}, errors.Annotatef(err, "item %d", i)
		}
		n.L[i] = item
	}
	return n, nil
}

func (e *encoder) encodeMap(v reflect.Value, tag string) (node, error) {
	keys := v.MapKeys()
	// Sorted so equal maps always produce equal bytes.
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	n := node{T: tag, L: make([]node, 0, 2*len(keys))}
	for _, k := range keys {
		kn, err := e.encode(k)
		if err != nil {
			return node{}, errors.Annotatef(err, "map key %v", k)
		}
		vn, err := e.encode(v.MapIndex(k))
		if err != nil {
			return node{}, errors.Annotatef(err, "map value for %v", k)
		}
		n.L = append(n.L, kn, vn)
	}
	return n, nil
}

func (e *encoder) encodeStruct(v reflect.Value, tag string) (node, error) {
	t := v.Type()
	n := node{T: tag, M: make(map[string]node, t.NumField())}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		fn, err := e.encode(v.Field(i))
		if err != nil {
			return node{}, errors.Annotatef(err, "field %s.%s", t.Name(), f.Name)
		}
		n.M[f.Name] = fn
	}
	return n, nil
}
