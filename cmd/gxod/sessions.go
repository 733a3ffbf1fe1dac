// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"

	"github.com/juju/errors"

	"github.com/luxfi/gxo/session"
)

// SessionsInterface is the name clients open and close sessions through.
const SessionsInterface = "Sessions"

// Sessions lets clients manage their own sessions.
type Sessions interface {
	Open(user string) string
	Close(ctx context.Context) error
	User(ctx context.Context) (string, error)
}

type sessionService struct {
	manager *session.IdleManager
}

func (s *sessionService) Open(user string) string {
	return s.manager.CreateSession(user)
}

func (s *sessionService) Close(ctx context.Context) error {
	id, ok := session.FromContext(ctx)
	if !ok {
		return errors.NotFoundf("session")
	}
	s.manager.CloseSession(id)
	return nil
}

func (s *sessionService) User(ctx context.Context) (string, error) {
	id, ok := session.FromContext(ctx)
	if !ok {
		return "", errors.NotFoundf("session")
	}
	return s.manager.User(id)
}

// UnsecuredMethods lets a client without a session open one.
func (s *sessionService) UnsecuredMethods() []string {
	return []string{"Open"}
}
