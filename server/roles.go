// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"fmt"
	"reflect"

	"github.com/juju/errors"

	"github.com/luxfi/gxo"
	"github.com/luxfi/gxo/registry"
	"github.com/luxfi/gxo/serializer"
	"github.com/luxfi/gxo/session"
)

// Role is a capability an object is registered with.
type Role int

const (
	// RoleService publishes the object under its declared interfaces.
	RoleService Role = iota

	// RoleValidator adds a Validator consulted before every call.
	RoleValidator

	// RoleConverterProvider adds a serializer.ConverterProvider.
	RoleConverterProvider

	// RoleSerializerProvider installs a serializer.SerializerProvider.
	RoleSerializerProvider

	// RoleSessionManager installs a session.Manager.
	RoleSessionManager
)

var roleNames = map[Role]string{
	RoleService:            "service",
	RoleValidator:          "validator",
	RoleConverterProvider:  "converter provider",
	RoleSerializerProvider: "serializer provider",
	RoleSessionManager:     "session manager",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Registered adds obj in each of roles. Without roles, every role obj is
// able to play is assumed. Naming a role obj cannot play is an error.
func (s *Server) Registered(obj interface{}, roles ...Role) error {
	if obj == nil {
		return errors.NotValidf("nil object")
	}
	if len(roles) == 0 {
		if roles = s.rolesOf(obj); len(roles) == 0 {
			return errors.NotValidf("%T playing no role", obj)
		}
	}
	for _, role := range roles {
		if err := s.register(obj, role); err != nil {
			return errors.Annotatef(err, "registering %T as %v", obj, role)
		}
	}
	return nil
}

// Unregistered removes obj from each of roles, or from every role it can
// play when none are named. Roles obj does not hold are ignored.
func (s *Server) Unregistered(obj interface{}, roles ...Role) {
	if obj == nil {
		return
	}
	if len(roles) == 0 {
		roles = s.rolesOf(obj)
	}
	for _, role := range roles {
		s.unregister(obj, role)
	}
}

// InstantiatableRegistered makes cls available to Init.
func (s *Server) InstantiatableRegistered(cls *registry.Class) error {
	return errors.Trace(s.registry.RegisterInstantiatable(cls))
}

// InstantiatableUnregistered withdraws cls. Existing instances stay usable.
func (s *Server) InstantiatableUnregistered(cls *registry.Class) {
	s.registry.UnregisterInstantiatable(cls)
}

func (s *Server) rolesOf(obj interface{}) []Role {
	var roles []Role
	if len(s.registry.Catalog().Describe(reflect.TypeOf(obj)).Interfaces) > 0 {
		roles = append(roles, RoleService)
	}
	if _, ok := obj.(Validator); ok {
		roles = append(roles, RoleValidator)
	}
	if _, ok := obj.(serializer.ConverterProvider); ok {
		roles = append(roles, RoleConverterProvider)
	}
	if _, ok := obj.(serializer.SerializerProvider); ok {
		roles = append(roles, RoleSerializerProvider)
	}
	if _, ok := obj.(session.Manager); ok {
		roles = append(roles, RoleSessionManager)
	}
	return roles
}

func (s *Server) register(obj interface{}, role Role) error {
	switch role {
	case RoleService:
		_, err := s.registry.RegisterService(obj)
		return errors.Trace(err)

	case RoleValidator:
		v, ok := obj.(Validator)
		if !ok {
			return errors.NotValidf("%T without ValidateCall", obj)
		}
		s.validatorsMu.Lock()
		defer s.validatorsMu.Unlock()
		for _, existing := range s.validators {
			if identical(existing, v) {
				return nil
			}
		}
		s.validators = append(s.validators, v)
		return nil

	case RoleConverterProvider:
		p, ok := obj.(serializer.ConverterProvider)
		if !ok {
			return errors.NotValidf("%T without RegisterConverters", obj)
		}
		s.serializerMu.Lock()
		defer s.serializerMu.Unlock()
		if err := p.RegisterConverters(s.ser); err != nil {
			return errors.Trace(err)
		}
		s.providers = append(s.providers, p)
		return nil

	case RoleSerializerProvider:
		p, ok := obj.(serializer.SerializerProvider)
		if !ok {
			return errors.NotValidf("%T without NewSerializer", obj)
		}
		s.serializerMu.Lock()
		defer s.serializerMu.Unlock()
		prev := s.serializerProvider
		s.serializerProvider = p
		if err := s.rebuildSerializer(); err != nil {
			s.serializerProvider = prev
			return errors.Trace(err)
		}
		return nil

	case RoleSessionManager:
		m, ok := obj.(session.Manager)
		if !ok {
			return errors.NotValidf("%T without CheckAndTick", obj)
		}
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()
		if s.sessions != nil && !identical(s.sessions, m) {
			logger.Warningf("replacing session manager %T with %T", s.sessions, m)
		}
		s.sessions = m
		return nil
	}
	return errors.NotSupportedf("%v", role)
}

func (s *Server) unregister(obj interface{}, role Role) {
	switch role {
	case RoleService:
		s.registry.UnregisterService(obj)

	case RoleValidator:
		s.validatorsMu.Lock()
		defer s.validatorsMu.Unlock()
		kept := s.validators[:0]
		for _, v := range s.validators {
			if !identical(v, obj) {
				kept = append(kept, v)
			}
		}
		s.validators = kept

	case RoleConverterProvider:
		s.serializerMu.Lock()
		defer s.serializerMu.Unlock()
		kept := make([]serializer.ConverterProvider, 0, len(s.providers))
		for _, p := range s.providers {
			if !identical(p, obj) {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(s.providers) {
			return
		}
		s.providers = kept
		if err := s.rebuildSerializer(); err != nil {
			logger.Errorf("rebuilding serializer: %v", err)
		}

	case RoleSerializerProvider:
		s.serializerMu.Lock()
		defer s.serializerMu.Unlock()
		if s.serializerProvider == nil || !identical(s.serializerProvider, obj) {
			return
		}
		s.serializerProvider = nil
		if err := s.rebuildSerializer(); err != nil {
			logger.Errorf("rebuilding serializer: %v", err)
		}

	case RoleSessionManager:
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()
		if s.sessions != nil && identical(s.sessions, obj) {
			s.sessions = nil
		}
	}
}

// rebuildSerializer replaces the serializer, replaying the protocol
// converters and then every provider in registration order. The caller
// holds serializerMu.
func (s *Server) rebuildSerializer() error {
	var next *serializer.Serializer
	if s.serializerProvider != nil {
		next = s.serializerProvider.NewSerializer()
	}
	if next == nil {
		next = serializer.New()
	}
	if err := gxo.ProtocolConverters.RegisterConverters(next); err != nil {
		return errors.Trace(err)
	}
	for _, p := range s.providers {
		if err := p.RegisterConverters(next); err != nil {
			return errors.Annotatef(err, "replaying %T", p)
		}
	}
	s.ser = next
	logger.Debugf("serializer replaced, %d providers replayed", len(s.providers))
	return nil
}

// identical compares registered objects by identity.
func identical(a, b interface{}) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return false
	}
	return a == b
}
