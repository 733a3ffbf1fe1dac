// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"net"
	"sync"

	"gopkg.in/tomb.v2"
)

// activation is one period between Activate and Deactivate. Its tomb tracks
// the acceptor, the local channel worker and every connection goroutine.
type activation struct {
	tomb  tomb.Tomb
	cfg   Config
	local *LocalListener

	mu        sync.Mutex
	stopped   bool
	listener  net.Listener
	conns     map[*conn]struct{}
	localConn *conn
}

func newActivation(cfg Config) *activation {
	return &activation{
		cfg:   cfg,
		conns: make(map[*conn]struct{}),
	}
}

// setListener installs l unless the activation is shutting down.
func (a *activation) setListener(l net.Listener) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.listener = l
	return true
}

func (a *activation) currentListener() net.Listener {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listener
}

func (a *activation) takeListener() net.Listener {
	a.mu.Lock()
	defer a.mu.Unlock()
	l := a.listener
	a.listener = nil
	return l
}

// dropListener closes l and forgets it if it is still the current one.
func (a *activation) dropListener(l net.Listener) {
	a.mu.Lock()
	if a.listener == l {
		a.listener = nil
	}
	a.mu.Unlock()
	l.Close()
}

func (a *activation) addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// addConn tracks c. It fails once shutdown has begun.
func (a *activation) addConn(c *conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.conns[c] = struct{}{}
	return true
}

func (a *activation) removeConn(c *conn) {
	a.mu.Lock()
	delete(a.conns, c)
	a.mu.Unlock()
}

func (a *activation) connCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

func (a *activation) setLocalConn(c *conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped && c != nil {
		return false
	}
	a.localConn = c
	return true
}

// shutdown stops accepting and closes the network listener, every network
// connection and the current local peer.
func (a *activation) shutdown() {
	a.mu.Lock()
	a.stopped = true
	l := a.listener
	a.listener = nil
	conns := make([]*conn, 0, len(a.conns)+1)
	for c := range a.conns {
		conns = append(conns, c)
	}
	if a.localConn != nil {
		conns = append(conns, a.localConn)
	}
	a.mu.Unlock()

	if l != nil {
		if err := l.Close(); err != nil {
			logger.Debugf("closing listener: %v", err)
		}
	}
	for _, c := range conns {
		c.close()
	}
	if len(conns) > 0 {
		logger.Debugf("closed %d connections", len(conns))
	}
}
