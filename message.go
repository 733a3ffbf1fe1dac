// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gxo

import (
	"github.com/luxfi/gxo/fault"
	"github.com/luxfi/gxo/serializer"
)

// InitRequest asks the server to instantiate ClassName with Params. The
// reply carries the instance id as a string.
type InitRequest struct {
	ClassName  string
	ParamTypes []string
	Params     []interface{}
}

// ExecRequest invokes Method on Target, which is either an instance id
// returned by Init or the name of a registered service interface.
type ExecRequest struct {
	Target     string
	Method     string
	ParamTypes []string
	Params     []interface{}
	SessionID  string
}

// CloseRequest ends the connection. It gets no reply.
type CloseRequest struct{}

// Response is the single reply to an InitRequest or ExecRequest. At most one
// of Fault and Expired is set; otherwise Result holds the return value, or
// Void when the method returns nothing.
type Response struct {
	Result  interface{}
	Fault   *fault.RemoteFault
	Expired *fault.SessionExpired
}

// Void is the result of a method without a return value.
type Void struct{}

// Wire aliases of the protocol messages.
const (
	AliasInit     = "gxo.init"
	AliasExec     = "gxo.exec"
	AliasClose    = "gxo.close"
	AliasResponse = "gxo.response"
	AliasVoid     = "gxo.void"
)

// ProtocolConverters registers the protocol messages on a serializer. The
// server applies it before any other converter provider, including on
// serializers supplied by a SerializerProvider.
var ProtocolConverters serializer.ConverterProvider = serializer.ConverterProviderFunc(registerProtocol)

func registerProtocol(s *serializer.Serializer) error {
	s.Alias(AliasInit, InitRequest{})
	s.Alias(AliasExec, ExecRequest{})
	s.Alias(AliasClose, CloseRequest{})
	s.Alias(AliasResponse, Response{})
	s.Alias(AliasVoid, Void{})
	return nil
}

// TypedArg pins the wire type of a call argument, for instance to pass a
// nil pointer to a method that is overloaded on pointer types.
type TypedArg struct {
	Tag   string
	Value interface{}
}

// Typed returns an argument whose type tag is tag regardless of v.
func Typed(tag string, v interface{}) TypedArg {
	return TypedArg{Tag: tag, Value: v}
}
