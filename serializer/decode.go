// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serializer

import (
	"reflect"

	"github.com/juju/errors"
	"github.com/ugorji/go/codec"
)

// SerializationFault reports a value that could not be encoded or a payload
// that could not be decoded.
type SerializationFault struct {
	Op  string
	Err error
}

// Error implements error.
func (f *SerializationFault) Error() string {
	return "serialization: " + f.Op + ": " + f.Err.Error()
}

// Unwrap returns the underlying error.
func (f *SerializationFault) Unwrap() error {
	return f.Err
}

// IsSerializationFault reports whether err is or wraps a SerializationFault.
func IsSerializationFault(err error) bool {
	var sf *SerializationFault
	return errors.As(err, &sf)
}

type decoder struct {
	s     *Serializer
	refs  map[int]reflect.Value
	depth int
}

// Decode rebuilds the value encoded in data, choosing Go types from the wire
// tags.
func (s *Serializer) Decode(data []byte) (interface{}, error) {
	var out interface{}
	if err := s.DecodeInto(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeInto decodes data into the value ptr points to. Payloads that
// cannot be rebuilt, including ones that would make reflection panic, are
// reported as a *SerializationFault.
func (s *Serializer) DecodeInto(data []byte, ptr interface{}) (err error) {
	pv := reflect.ValueOf(ptr)
	if pv.Kind() != reflect.Ptr || pv.IsNil() {
		return &SerializationFault{Op: "decode", Err: errors.Errorf("destination %T is not a non-nil pointer", ptr)}
	}
	if len(data) == 0 {
		return &SerializationFault{Op: "decode", Err: errors.New("empty payload")}
	}
	var n node
	if err := codec.NewDecoderBytes(data, s.handle).Decode(&n); err != nil {
		return &SerializationFault{Op: "decode", Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &SerializationFault{Op: "decode", Err: errors.Errorf("rejected payload: %v", r)}
		}
	}()
	d := &decoder{s: s, refs: make(map[int]reflect.Value)}
	if err := d.decode(n, pv.Elem()); err != nil {
		return &SerializationFault{Op: "decode", Err: err}
	}
	return nil
}

// decode sets target, which must be settable, from n.
func (d *decoder) decode(n node, target reflect.Value) error {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > maxDepth {
		return errors.Errorf("value nested deeper than %d", maxDepth)
	}

	t := target.Type()
	switch n.T {
	case tagNil:
		target.Set(reflect.Zero(t))
		return nil
	case tagRef:
		v, ok := d.refs[n.R]
		if !ok {
			return errors.Errorf("dangling reference %d", n.R)
		}
		return assign(target, v)
	}

	if t.Kind() == reflect.Interface {
		return d.decodeDynamic(n, target)
	}

	if c := d.s.converterByAlias(n.T); c != nil {
		if len(n.L) != 1 {
			return errors.Errorf("malformed %q value", n.T)
		}
		var payload interface{}
		if err := d.decode(n.L[0], reflect.ValueOf(&payload).Elem()); err != nil {
			return errors.Trace(err)
		}
		v, err := c.FromWire(payload, t)
		if err != nil {
			return errors.Annotatef(err, "converting %q", n.T)
		}
		return assign(target, v)
	}

	if n.T == tagEmpty {
		switch t.Kind() {
		case reflect.Slice:
			target.Set(reflect.MakeSlice(t, 0, 0))
		case reflect.Map:
			target.Set(reflect.MakeMap(t))
		default:
			return errors.Errorf("cannot decode an empty collection into %s", t)
		}
		return nil
	}

	switch t.Kind() {
	case reflect.Ptr:
		if len(n.L) != 1 {
			return errors.Errorf("cannot decode %q into %s", n.T, t)
		}
		p := reflect.New(t.Elem())
		if n.ID != 0 {
			d.refs[n.ID] = p
		}
		if err := d.decode(n.L[0], p.Elem()); err != nil {
			return errors.Trace(err)
		}
		target.Set(p)
		return nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 && n.B != nil {
			target.Set(reflect.ValueOf(append([]byte(nil), n.B...)).Convert(t))
			return nil
		}
		s := reflect.MakeSlice(t, len(n.L), len(n.L))
		for i := range n.L {
			if err := d.decode(n.L[i], s.Index(i)); err != nil {
				return errors.Annotatef(err, "item %d", i)
			}
		}
		target.Set(s)
		return nil
	case reflect.Array:
		if len(n.L) != t.Len() {
			return errors.Errorf("array of %d items into %s", len(n.L), t)
		}
		for i := range n.L {
			if err := d.decode(n.L[i], target.Index(i)); err != nil {
				return errors.Annotatef(err, "item %d", i)
			}
		}
		return nil
	case reflect.Map:
		if len(n.L)%2 != 0 {
			return errors.Errorf("map %q has an odd item count", n.T)
		}
		m := reflect.MakeMapWithSize(t, len(n.L)/2)
		for i := 0; i < len(n.L); i += 2 {
			k := reflect.New(t.Key()).Elem()
			if err := d.decode(n.L[i], k); err != nil {
				return errors.Annotate(err, "map key")
			}
			if !hashable(k) {
				return errors.Errorf("map key of type %s is not hashable", dynamicType(k))
			}
			v := reflect.New(t.Elem()).Elem()
			if err := d.decode(n.L[i+1], v); err != nil {
				return errors.Annotatef(err, "map value for %v", k)
			}
			m.SetMapIndex(k, v)
		}
		target.Set(m)
		return nil
	case reflect.Struct:
		for name, fn := range n.M {
			f := target.FieldByName(name)
			if !f.IsValid() || !f.CanSet() {
				// Fields unknown to this side are skipped so older and
				// newer peers can still talk.
				continue
			}
			if err := d.decode(fn, f); err != nil {
				return errors.Annotatef(err, "field %s", name)
			}
		}
		return nil
	}
	v, err := d.scalar(n, t)
	if err != nil {
		return errors.Trace(err)
	}
	target.Set(v)
	return nil
}

// decodeDynamic decodes into an interface slot, building the type named by
// the node's tag.
func (d *decoder) decodeDynamic(n node, target reflect.Value) error {
	var (
		t   reflect.Type
		err error
	)
	if n.T == tagEmpty {
		t, err = d.s.TypeOf(n.S)
		if err == nil && t == reflect.TypeOf(EmptyList) {
			target.Set(reflect.ValueOf(EmptyList))
			return nil
		}
	} else {
		t, err = d.s.TypeOf(n.T)
	}
	if err != nil {
		return errors.Trace(err)
	}
	if t.Kind() == reflect.Interface {
		return errors.Errorf("tag %q names an interface, not a concrete type", n.T)
	}
	v := reflect.New(t).Elem()
	if err := d.decode(n, v); err != nil {
		return errors.Trace(err)
	}
	return assign(target, v)
}

type kindClass int

const (
	classOther kindClass = iota
	classBool
	classInt
	classUint
	classFloat
	classString
)

func classOf(k reflect.Kind) kindClass {
	switch k {
	case reflect.Bool:
		return classBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return classInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return classUint
	case reflect.Float32, reflect.Float64:
		return classFloat
	case reflect.String:
		return classString
	}
	return classOther
}

// scalar reads a basic value from n and converts it to t.
func (d *decoder) scalar(n node, t reflect.Type) (reflect.Value, error) {
	src := t
	if rt, err := d.s.TypeOf(n.T); err == nil {
		src = rt
	}
	class := classOf(src.Kind())
	if class != classOf(t.Kind()) {
		return reflect.Value{}, errors.Errorf("cannot decode %q into %s", n.T, t)
	}
	var v reflect.Value
	switch class {
	case classBool:
		v = reflect.ValueOf(n.Z)
	case classInt:
		v = reflect.ValueOf(n.I)
		if reflect.New(t).Elem().OverflowInt(n.I) {
			return reflect.Value{}, errors.Errorf("%d overflows %s", n.I, t)
		}
	case classUint:
		v = reflect.ValueOf(n.U)
		if reflect.New(t).Elem().OverflowUint(n.U) {
			return reflect.Value{}, errors.Errorf("%d overflows %s", n.U, t)
		}
	case classFloat:
		v = reflect.ValueOf(n.F)
	case classString:
		v = reflect.ValueOf(n.S)
	default:
		return reflect.Value{}, errors.Errorf("cannot decode %q into %s", n.T, t)
	}
	return v.Convert(t), nil
}

// assign sets target to v, converting between types of the same kind
// class when they are not directly assignable.
func assign(target, v reflect.Value) error {
	t := target.Type()
	switch {
	case v.Type().AssignableTo(t):
		target.Set(v)
	case classOf(v.Kind()) != classOther && classOf(v.Kind()) == classOf(t.Kind()):
		target.Set(v.Convert(t))
	case v.Kind() == t.Kind() && v.Type().ConvertibleTo(t):
		target.Set(v.Convert(t))
	default:
		return errors.Errorf("cannot assign %s to %s", v.Type(), t)
	}
	return nil
}

// hashable reports whether v can be used as a map key. Interface values,
// also inside structs and arrays, must hold a comparable dynamic type.
func hashable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return true
		}
		return hashable(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !hashable(v.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !hashable(v.Index(i)) {
				return false
			}
		}
		return true
	}
	return v.Type().Comparable()
}

func dynamicType(v reflect.Value) reflect.Type {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	return v.Type()
}
