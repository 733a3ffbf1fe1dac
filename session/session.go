// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package session tracks client sessions for a GXO server. A session stays
// valid while it is used at least once per idle period.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"gopkg.in/tomb.v2"

	"github.com/luxfi/gxo/fault"
)

var logger = loggo.GetLogger("gxo.session")

const (
	// DefaultMaxIdle is how long an unused session stays valid.
	DefaultMaxIdle = 300 * time.Second

	// UserKey is the data key holding the user a session was created for.
	UserKey = "user"
)

// Manager is what the server needs from a session manager.
type Manager interface {
	// BindCurrentSession returns ctx carrying id as the session of the call
	// in progress.
	BindCurrentSession(ctx context.Context, id string) context.Context

	// CheckAndTick returns a *fault.SessionExpired unless id names a live
	// session, which is then marked as used.
	CheckAndTick(id string) error
}

type contextKey struct{}

// WithSession returns ctx carrying the session id.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the session bound to ctx by the server, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Config holds the parameters of an IdleManager.
type Config struct {
	Clock clock.Clock

	// MaxIdle is the idle period after which a session expires.
	MaxIdle time.Duration

	// SweepInterval is how often expired sessions are purged. It defaults
	// to MaxIdle.
	SweepInterval time.Duration
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if c.MaxIdle <= 0 {
		return errors.NotValidf("MaxIdle %v", c.MaxIdle)
	}
	if c.SweepInterval < 0 {
		return errors.NotValidf("SweepInterval %v", c.SweepInterval)
	}
	return nil
}

type session struct {
	lastUsed time.Time
	data     map[string]interface{}
}

// IdleManager is a Manager whose sessions expire after a period without
// use. It is a worker: a background loop purges expired sessions until it
// is killed.
type IdleManager struct {
	tomb tomb.Tomb
	cfg  Config

	mu       sync.Mutex
	sessions map[string]*session
}

// NewIdleManager starts an IdleManager.
func NewIdleManager(cfg Config) (*IdleManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = cfg.MaxIdle
	}
	m := &IdleManager{
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
	m.tomb.Go(m.loop)
	return m, nil
}

// Kill implements the worker.Worker interface.
func (m *IdleManager) Kill() {
	m.tomb.Kill(nil)
}

// Wait implements the worker.Worker interface.
func (m *IdleManager) Wait() error {
	return m.tomb.Wait()
}

func (m *IdleManager) loop() error {
	for {
		select {
		case <-m.tomb.Dying():
			return tomb.ErrDying
		case <-m.cfg.Clock.After(m.cfg.SweepInterval):
			if n := m.sweep(); n > 0 {
				logger.Debugf("purged %d expired sessions", n)
			}
		}
	}
}

func (m *IdleManager) sweep() int {
	now := m.cfg.Clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			purged++
		}
	}
	return purged
}

func (m *IdleManager) expired(s *session, now time.Time) bool {
	return now.Sub(s.lastUsed) > m.cfg.MaxIdle
}

// CreateSession opens a session for user and returns its id.
func (m *IdleManager) CreateSession(user string) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = &session{
		lastUsed: m.cfg.Clock.Now(),
		data:     map[string]interface{}{UserKey: user},
	}
	m.mu.Unlock()
	logger.Debugf("created session %s for %q", id, user)
	return id
}

// live returns the session for id, dropping it if it has expired. The
// caller holds m.mu.
func (m *IdleManager) live(id string) (*session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, &fault.SessionExpired{SessionID: id}
	}
	if m.expired(s, m.cfg.Clock.Now()) {
		delete(m.sessions, id)
		return nil, &fault.SessionExpired{SessionID: id}
	}
	return s, nil
}

// CheckSession returns a *fault.SessionExpired unless id is live.
func (m *IdleManager) CheckSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.live(id)
	return err
}

// TickSession marks id as used now.
func (m *IdleManager) TickSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.lastUsed = m.cfg.Clock.Now()
	}
}

// CheckAndTick implements Manager.
func (m *IdleManager) CheckAndTick(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.live(id)
	if err != nil {
		return err
	}
	s.lastUsed = m.cfg.Clock.Now()
	return nil
}

// BindCurrentSession implements Manager.
func (m *IdleManager) BindCurrentSession(ctx context.Context, id string) context.Context {
	return WithSession(ctx, id)
}

// CloseSession ends id. Closing an unknown session does nothing.
func (m *IdleManager) CloseSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// PutData stores value under key in session id.
func (m *IdleManager) PutData(id, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.live(id)
	if err != nil {
		return err
	}
	s.data[key] = value
	return nil
}

// GetData returns the value stored under key in session id.
func (m *IdleManager) GetData(id, key string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.live(id)
	if err != nil {
		return nil, err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, errors.NotFoundf("session data %q", key)
	}
	return v, nil
}

// User returns the user session id was created for.
func (m *IdleManager) User(id string) (string, error) {
	v, err := m.GetData(id, UserKey)
	if err != nil {
		return "", err
	}
	user, _ := v.(string)
	return user, nil
}

// Count returns the number of sessions held, expired or not.
func (m *IdleManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
