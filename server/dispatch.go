// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"context"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/luxfi/gxo"
	"github.com/luxfi/gxo/fault"
	"github.com/luxfi/gxo/registry"
	"github.com/luxfi/gxo/serializer"
)

// Request kinds, used as metric labels.
const (
	kindInit      = "init"
	kindExec      = "exec"
	kindMalformed = "malformed"
)

// handle decodes and answers one request. It returns the encoded reply, or
// closing set when the client asked to end the connection.
func (s *Server) handle(ctx context.Context, c *conn, data []byte) (reply []byte, closing bool) {
	ser := s.Serializer()
	req, err := s.decode(ser, c, data)
	if err != nil {
		logger.Debugf("connection %s: malformed request: %v", c.id, err)
		s.metrics.requests.WithLabelValues(kindMalformed).Inc()
		resp := faulted(fault.Wrapf(fault.ValidationFailed, "malformed request: %v", err))
		s.countFault(kindMalformed, resp)
		return s.encode(ser, c, resp), false
	}

	var kind string
	var resp gxo.Response
	switch r := req.(type) {
	case gxo.CloseRequest:
		return nil, true
	case gxo.InitRequest:
		kind = kindInit
		resp = s.safely(c, func() gxo.Response { return s.init(ctx, c, ser, r) })
	case gxo.ExecRequest:
		kind = kindExec
		resp = s.safely(c, func() gxo.Response { return s.exec(ctx, c, ser, r) })
	}
	s.metrics.requests.WithLabelValues(kind).Inc()
	s.countFault(kind, resp)
	return s.encode(ser, c, resp), false
}

// decode decodes a request. A panic while decoding is returned as an error.
func (s *Server) decode(ser *serializer.Serializer, c *conn, data []byte) (req interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("connection %s: decoding request: %v", c.id, r)
			req, err = nil, errors.Errorf("undecodable payload: %v", r)
		}
	}()
	return gxo.DecodeRequest(ser, data)
}

// safely runs fn, turning a panic into an internal fault so that every
// request gets exactly one reply.
func (s *Server) safely(c *conn, fn func() gxo.Response) (resp gxo.Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("connection %s: internal error: %v", c.id, r)
			resp = faulted(fault.Wrapf(fault.Internal, "internal error: %v", r))
		}
	}()
	return fn()
}

func (s *Server) init(ctx context.Context, c *conn, ser *serializer.Serializer, r gxo.InitRequest) gxo.Response {
	cls, ok := s.registry.Instantiatable(r.ClassName)
	if !ok {
		logger.Debugf("connection %s: undefined instantiatable %s", c.id, r.ClassName)
		return faulted(fault.Wrapf(fault.Undefined, "Undefined instantiatable %s", r.ClassName))
	}
	obj, err := cls.Instantiate(ctx, ser, r.ParamTypes, r.Params)
	if err != nil {
		logger.Debugf("connection %s: instantiating %s: %v", c.id, r.ClassName, err)
		return callFault(err)
	}
	id := uuid.NewString()
	c.instances[id] = obj
	logger.Debugf("connection %s: created %s as %s", c.id, r.ClassName, id)
	return gxo.Response{Result: id}
}

func (s *Server) exec(ctx context.Context, c *conn, ser *serializer.Serializer, r gxo.ExecRequest) gxo.Response {
	target, ok := c.instances[r.Target]
	if !ok {
		target, ok = s.registry.Service(r.Target)
	}
	if !ok {
		logger.Debugf("connection %s: undefined service %s", c.id, r.Target)
		return faulted(fault.Wrapf(fault.Undefined, "Undefined service %s", r.Target))
	}

	m, err := s.registry.Lookup(ser, target, r.Method, r.ParamTypes)
	if err != nil {
		logger.Debugf("connection %s: %v", c.id, err)
		return faulted(fault.Wrapf(fault.Undefined, "Undefined method %s.%s(%s)",
			r.Target, r.Method, strings.Join(r.ParamTypes, ", ")))
	}

	if mgr := s.sessionManager(); mgr != nil {
		ctx = mgr.BindCurrentSession(ctx, r.SessionID)
		if !registry.IsUnsecured(target, r.Method) {
			if err := mgr.CheckAndTick(r.SessionID); err != nil {
				var expired *fault.SessionExpired
				if errors.As(err, &expired) {
					logger.Infof("connection %s: %v calling %s.%s", c.id, expired, r.Target, r.Method)
					return gxo.Response{Expired: expired}
				}
				logger.Warningf("connection %s: checking session: %v", c.id, err)
				return gxo.FaultResponse(err)
			}
		}
	}

	for _, v := range s.validatorList() {
		if err := v.ValidateCall(ctx, ServiceTag, target, r.Method, r.Params); err != nil {
			logger.Debugf("connection %s: %s.%s rejected: %v", c.id, r.Target, r.Method, err)
			return faulted(&fault.RemoteFault{
				Message: "call rejected: " + err.Error(),
				Cause:   fault.Flatten(err),
			})
		}
	}

	result, err := m.Call(ctx, []reflect.Value{reflect.ValueOf(target)}, r.Params)
	if err != nil {
		logger.Debugf("connection %s: %s.%s: %v", c.id, r.Target, r.Method, err)
		return callFault(err)
	}
	if m.Void() {
		return gxo.Response{Result: gxo.Void{}}
	}
	return gxo.Response{Result: result}
}

// callFault reports a failed call. Errors raised by the called code lose
// the invocation wrapper; argument problems are validation failures.
func callFault(err error) gxo.Response {
	var ie *registry.InvocationError
	switch {
	case errors.As(err, &ie):
		return gxo.FaultResponse(ie.Err)
	case errors.IsNotFound(err):
		return faulted(fault.Wrapf(fault.Undefined, "%v", err))
	}
	return faulted(fault.Wrapf(fault.ValidationFailed, "%v", err))
}

func faulted(f *fault.RemoteFault) gxo.Response {
	return gxo.Response{Fault: f}
}

func (s *Server) countFault(kind string, resp gxo.Response) {
	if resp.Fault != nil || resp.Expired != nil {
		s.metrics.faults.WithLabelValues(kind).Inc()
	}
}

// encode serializes resp. A result that cannot be encoded is replaced by a
// fault saying so.
func (s *Server) encode(ser *serializer.Serializer, c *conn, resp gxo.Response) []byte {
	data, err := ser.Encode(resp)
	if err == nil {
		return data
	}
	logger.Warningf("connection %s: encoding response: %v", c.id, err)
	data, err = ser.Encode(faulted(fault.Wrapf(fault.Internal, "cannot encode response: %v", err)))
	if err != nil {
		logger.Errorf("connection %s: encoding fault: %v", c.id, err)
	}
	return data
}
