// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gxo

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"
)

// Transport names
const (
	TransportTCP  = "tcp"  // Network path, compressed with idle timeout
	TransportUnix = "unix" // Local channel, plain
)

// DefaultTransport is used by Dial when no transport is given.
const DefaultTransport = TransportTCP

// frameFunc wraps a connected socket for a transport.
type frameFunc func(conn net.Conn, idle time.Duration) *FrameConn

func frameLocal(conn net.Conn, _ time.Duration) *FrameConn {
	return NewLocalFrameConn(conn)
}

type transport struct {
	network string
	frame   frameFunc
}

var (
	transportsMu sync.RWMutex
	transports   = map[string]transport{
		TransportTCP:  {network: "tcp", frame: NewNetworkFrameConn},
		TransportUnix: {network: "unix", frame: frameLocal},
	}
)

func lookupTransport(name string) (transport, error) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	t, ok := transports[name]
	if !ok {
		return transport{}, errors.NotFoundf("transport %q", name)
	}
	return t, nil
}

// Frame wraps conn the way the named transport does.
func Frame(name string, conn net.Conn, idle time.Duration) (*FrameConn, error) {
	t, err := lookupTransport(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return t.frame(conn, idle), nil
}

// AvailableTransports returns the sorted list of transport names.
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[name]
	return ok
}
