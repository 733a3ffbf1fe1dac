// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package server implements the GXO server: it accepts connections on a
// network port and on a local channel, instantiates classes and invokes
// methods on behalf of clients.
//
// Objects are pushed into the server with Registered, naming the roles they
// play. The server never looks them up on its own.
package server

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/luxfi/gxo"
	"github.com/luxfi/gxo/registry"
	"github.com/luxfi/gxo/serializer"
	"github.com/luxfi/gxo/session"
)

var logger = loggo.GetLogger("gxo.server")

const (
	// DefaultPort is the network port used when none is configured.
	DefaultPort = 1966

	// ServiceTag is passed to validators as the name of the calling
	// service.
	ServiceTag = "GXO"

	// listenRetryDelay is the pause between failed attempts to listen.
	listenRetryDelay = 5 * time.Second
)

// Config is the part of the server configuration that requires a restart
// of the listeners when it changes.
type Config struct {
	// Port is the TCP port to listen on. Zero picks a free port.
	Port int

	// Host restricts the listener to one address. Empty means all.
	Host string

	// MaxIdle closes network connections without a message for this long.
	// Zero disables the timeout.
	MaxIdle time.Duration

	// LocalSocket is the path of the local channel socket. Empty disables
	// the local channel.
	LocalSocket string
}

// Address returns the listen address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validator authorizes method calls. A non-nil error rejects the call and
// is reported to the client.
type Validator interface {
	ValidateCall(ctx context.Context, service string, target interface{}, method string, params []interface{}) error
}

// Params holds the collaborators of a Server.
type Params struct {
	// Registry holds the published services and classes. A new one with an
	// empty catalog is created when nil.
	Registry *registry.Registry

	// Clock paces listen retries. Defaults to the wall clock.
	Clock clock.Clock

	// OnStatus is called with true after activation and false after
	// deactivation.
	OnStatus func(active bool)
}

// Server is a GXO server. The zero value is not usable; call New.
type Server struct {
	registry *registry.Registry
	clock    clock.Clock
	onStatus func(bool)
	metrics  *metrics

	validatorsMu sync.RWMutex
	validators   []Validator

	serializerMu       sync.RWMutex
	providers          []serializer.ConverterProvider
	serializerProvider serializer.SerializerProvider
	ser                *serializer.Serializer

	sessionMu sync.RWMutex
	sessions  session.Manager

	// lifecycle serializes Activate and Deactivate; mu only guards active.
	lifecycle sync.Mutex
	mu        sync.Mutex
	active    *activation
}

// New returns an inactive server.
func New(params Params) *Server {
	reg := params.Registry
	if reg == nil {
		reg = registry.New(nil)
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Server{
		registry: reg,
		clock:    clk,
		onStatus: params.OnStatus,
		metrics:  newMetrics(),
		ser:      gxo.NewSerializer(),
	}
}

// Registry returns the registry the server resolves calls with.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Serializer returns the serializer in use for new requests.
func (s *Server) Serializer() *serializer.Serializer {
	s.serializerMu.RLock()
	defer s.serializerMu.RUnlock()
	return s.ser
}

func (s *Server) validatorList() []Validator {
	s.validatorsMu.RLock()
	defer s.validatorsMu.RUnlock()
	return append([]Validator(nil), s.validators...)
}

func (s *Server) sessionManager() session.Manager {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.sessions
}

func (s *Server) current() *activation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Activate starts listening as described by cfg. A port that cannot be
// bound yet is retried in the background.
func (s *Server) Activate(cfg Config) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if a := s.current(); a != nil {
		return errors.AlreadyExistsf("active server on %s", a.cfg.Address())
	}

	a := newActivation(cfg)
	if l, err := net.Listen("tcp", cfg.Address()); err != nil {
		logger.Warningf("cannot listen on %s yet: %v", cfg.Address(), err)
	} else {
		a.setListener(l)
		logger.Infof("listening on %s", l.Addr())
	}

	var local *LocalListener
	if cfg.LocalSocket != "" {
		var err error
		if local, err = NewLocalListener(cfg.LocalSocket); err != nil {
			if l := a.takeListener(); l != nil {
				l.Close()
			}
			return errors.Annotate(err, "opening local channel")
		}
		logger.Infof("local channel on %s", local.Path())
	}

	a.local = local
	a.tomb.Go(func() error {
		return s.acceptLoop(a)
	})
	if local != nil {
		a.tomb.Go(func() error {
			return s.localLoop(a, local)
		})
	}
	s.mu.Lock()
	s.active = a
	s.mu.Unlock()
	if s.onStatus != nil {
		s.onStatus(true)
	}
	return nil
}

// Deactivate stops the listeners, closes every open connection and waits
// for the connection goroutines to finish. It does nothing on an inactive
// server.
func (s *Server) Deactivate() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	a := s.active
	s.active = nil
	s.mu.Unlock()
	if a == nil {
		return nil
	}

	a.tomb.Kill(nil)
	a.shutdown()
	if a.local != nil {
		if err := a.local.Close(); err != nil {
			logger.Warningf("closing local channel: %v", err)
		}
	}
	err := a.tomb.Wait()
	logger.Infof("deactivated")
	if s.onStatus != nil {
		s.onStatus(false)
	}
	return errors.Trace(err)
}

// Reconfigure restarts the listeners with cfg. Instances created on the
// closed connections are lost.
func (s *Server) Reconfigure(cfg Config) error {
	if err := s.Deactivate(); err != nil {
		logger.Warningf("deactivating for reconfiguration: %v", err)
	}
	return s.Activate(cfg)
}

// Addr returns the network listen address, or "" when not listening.
func (s *Server) Addr() string {
	a := s.current()
	if a == nil {
		return ""
	}
	return a.addr()
}

// OpenConnections returns the number of open network connections.
func (s *Server) OpenConnections() int {
	a := s.current()
	if a == nil {
		return 0
	}
	return a.connCount()
}

// Status describes the server for the admin endpoint.
type Status struct {
	Active          bool     `json:"active"`
	Address         string   `json:"address,omitempty"`
	LocalSocket     string   `json:"local-socket,omitempty"`
	OpenConnections int      `json:"open-connections"`
	Services        []string `json:"services"`
	Instantiatables []string `json:"instantiatables"`
	Validators      int      `json:"validators"`
	SessionManager  bool     `json:"session-manager"`
}

// Status returns a snapshot of the server state.
func (s *Server) Status() Status {
	a := s.current()
	st := Status{
		Services:        s.registry.Services(),
		Instantiatables: s.registry.Instantiatables(),
		Validators:      len(s.validatorList()),
		SessionManager:  s.sessionManager() != nil,
	}
	if a != nil {
		st.Active = true
		st.Address = a.addr()
		st.LocalSocket = a.cfg.LocalSocket
		st.OpenConnections = a.connCount()
	}
	return st
}
