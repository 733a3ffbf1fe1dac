// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"context"
	"net"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/luxfi/gxo"
)

// localRetryDelay is the pause after a failed accept on the local channel.
const localRetryDelay = time.Second

// acceptLoop accepts network connections until the activation dies. When
// the port cannot be bound it retries every listenRetryDelay.
func (s *Server) acceptLoop(a *activation) error {
	for {
		l := a.currentListener()
		if l == nil {
			if !s.pause(a, listenRetryDelay) {
				return tomb.ErrDying
			}
			nl, err := net.Listen("tcp", a.cfg.Address())
			if err != nil {
				logger.Warningf("cannot listen on %s: %v", a.cfg.Address(), err)
				continue
			}
			if !a.setListener(nl) {
				nl.Close()
				return tomb.ErrDying
			}
			logger.Infof("listening on %s", nl.Addr())
			continue
		}

		nc, err := l.Accept()
		if err != nil {
			select {
			case <-a.tomb.Dying():
				return tomb.ErrDying
			default:
			}
			logger.Warningf("accepting on %s: %v", l.Addr(), err)
			a.dropListener(l)
			continue
		}
		s.startConn(a, nc)
	}
}

// pause waits for d on the server clock. It returns false if the
// activation started dying first.
func (s *Server) pause(a *activation, d time.Duration) bool {
	select {
	case <-a.tomb.Dying():
		return false
	case <-s.clock.After(d):
		return true
	}
}

func (s *Server) startConn(a *activation, nc net.Conn) {
	c := newConn(gxo.NewNetworkFrameConn(nc, a.cfg.MaxIdle), make(map[string]interface{}))
	if !a.addConn(c) {
		c.close()
		return
	}
	s.metrics.openConns.Inc()
	logger.Debugf("connection %s from %s", c.id, c.fc.RemoteAddr())

	a.tomb.Go(func() error {
		defer func() {
			c.close()
			s.metrics.openConns.Dec()
			a.removeConn(c)
		}()
		err := s.serve(a.tomb.Context(context.Background()), c)
		logConnEnd(c, err)
		// A failing connection never takes the activation down with it.
		return nil
	})
}

// localLoop serves the local channel one peer at a time. Instances survive
// a peer going away and are seen by the next one.
func (s *Server) localLoop(a *activation, l *LocalListener) error {
	instances := make(map[string]interface{})
	ctx := a.tomb.Context(context.Background())
	for {
		nc, err := l.Accept()
		if err != nil {
			select {
			case <-a.tomb.Dying():
				return tomb.ErrDying
			default:
			}
			logger.Errorf("accepting on local channel: %v", err)
			if !s.pause(a, localRetryDelay) {
				return tomb.ErrDying
			}
			continue
		}

		c := newConn(gxo.NewLocalFrameConn(nc), instances)
		if !a.setLocalConn(c) {
			c.close()
			return tomb.ErrDying
		}
		logger.Debugf("local channel opened by %s", c.id)
		err = s.serve(ctx, c)
		a.setLocalConn(nil)
		c.close()
		logConnEnd(c, err)
	}
}

func logConnEnd(c *conn, err error) {
	switch {
	case err == nil:
		logger.Debugf("connection %s closed by client", c.id)
	case gxo.IsBenign(err):
		logger.Debugf("connection %s ended: %v", c.id, err)
	default:
		logger.Errorf("connection %s failed: %v", c.id, err)
	}
}
