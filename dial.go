// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gxo

import (
	"context"
	"net"
	"time"

	"github.com/juju/errors"

	"github.com/luxfi/gxo/serializer"
)

// DialOption configures client connections
type DialOption func(*dialOptions)

type dialOptions struct {
	serializer *serializer.Serializer
	transport  string
	idle       time.Duration
}

// WithSerializer sets the serializer used to encode calls. It must know the
// aliases of every type the server may return. The protocol messages are
// registered on it by Dial.
func WithSerializer(s *serializer.Serializer) DialOption {
	return func(o *dialOptions) { o.serializer = s }
}

// WithTransport explicitly sets the transport type
func WithTransport(t string) DialOption {
	return func(o *dialOptions) { o.transport = t }
}

// WithClientIdleTimeout bounds how long the client waits for a reply.
// The default is no bound.
func WithClientIdleTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.idle = d }
}

// Dial connects to a GXO server over the network path.
func Dial(ctx context.Context, addr string, opts ...DialOption) (*Client, error) {
	o := &dialOptions{transport: DefaultTransport}
	for _, opt := range opts {
		opt(o)
	}
	return dial(ctx, addr, o)
}

// DialLocal connects to the local channel socket at path.
func DialLocal(ctx context.Context, path string, opts ...DialOption) (*Client, error) {
	return Dial(ctx, path, append(opts, WithTransport(TransportUnix))...)
}

func dial(ctx context.Context, addr string, o *dialOptions) (*Client, error) {
	t, err := lookupTransport(o.transport)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, t.network, addr)
	if err != nil {
		return nil, errors.Annotatef(err, "gxo dial %s", addr)
	}

	s := o.serializer
	if s == nil {
		s = NewSerializer()
	} else if err := ProtocolConverters.RegisterConverters(s); err != nil {
		conn.Close()
		return nil, errors.Trace(err)
	}
	return newClient(t.frame(conn, o.idle), s), nil
}
