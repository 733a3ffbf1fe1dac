// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gxo

import (
	"reflect"

	"github.com/juju/errors"

	"github.com/luxfi/gxo/fault"
	"github.com/luxfi/gxo/serializer"
)

// NewSerializer returns a serializer with the protocol messages registered.
func NewSerializer() *serializer.Serializer {
	s := serializer.New()
	// registerProtocol cannot fail.
	_ = ProtocolConverters.RegisterConverters(s)
	return s
}

// Arguments splits call arguments into wire values and their type tags.
func Arguments(s *serializer.Serializer, args []interface{}) ([]interface{}, []string) {
	if len(args) == 0 {
		return nil, nil
	}
	params := make([]interface{}, len(args))
	tags := make([]string, len(args))
	for i, arg := range args {
		if typed, ok := arg.(TypedArg); ok {
			params[i] = typed.Value
			tags[i] = typed.Tag
			continue
		}
		params[i] = arg
		tags[i] = s.TypeTag(reflect.TypeOf(arg))
	}
	return params, tags
}

// DecodeRequest decodes one request message. The result is an
// InitRequest, ExecRequest or CloseRequest.
func DecodeRequest(s *serializer.Serializer, data []byte) (interface{}, error) {
	v, err := s.Decode(data)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch v.(type) {
	case InitRequest, ExecRequest, CloseRequest:
		return v, nil
	}
	return nil, errors.NotValidf("request of type %T", v)
}

// Unpack turns a response into the value or error a caller sees.
func (r Response) Unpack() (interface{}, error) {
	switch {
	case r.Expired != nil:
		return nil, r.Expired
	case r.Fault != nil:
		return nil, r.Fault
	}
	if _, ok := r.Result.(Void); ok {
		return nil, nil
	}
	return r.Result, nil
}

// FaultResponse returns a Response carrying the flattened form of err.
// Session expiry is kept as is.
func FaultResponse(err error) Response {
	var expired *fault.SessionExpired
	if errors.As(err, &expired) {
		return Response{Expired: expired}
	}
	return Response{Fault: fault.Flatten(err)}
}
