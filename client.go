// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gxo

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/luxfi/gxo/serializer"
)

// Client talks to a GXO server over one connection. Calls are sent one at a
// time; concurrent callers wait for each other.
type Client struct {
	mu     sync.Mutex
	conn   *FrameConn
	ser    *serializer.Serializer
	closed bool
}

func newClient(conn *FrameConn, s *serializer.Serializer) *Client {
	return &Client{conn: conn, ser: s}
}

// NewClient returns a client over an already connected stream.
func NewClient(conn *FrameConn, s *serializer.Serializer) *Client {
	if s == nil {
		s = NewSerializer()
	}
	return newClient(conn, s)
}

// Serializer returns the client's serializer, for registering aliases.
func (c *Client) Serializer() *serializer.Serializer {
	return c.ser
}

// Init instantiates className on the server and returns the instance id.
// Instances live as long as the connection.
func (c *Client) Init(ctx context.Context, className string, args ...interface{}) (string, error) {
	params, tags := Arguments(c.ser, args)
	result, err := c.call(ctx, InitRequest{ClassName: className, ParamTypes: tags, Params: params})
	if err != nil {
		return "", err
	}
	id, ok := result.(string)
	if !ok {
		return "", errors.Errorf("init %s: unexpected result %T", className, result)
	}
	return id, nil
}

// Exec invokes method on target, an instance id or a service name. A nil
// result with a nil error means either a nil return value or a void method.
func (c *Client) Exec(ctx context.Context, sessionID, target, method string, args ...interface{}) (interface{}, error) {
	params, tags := Arguments(c.ser, args)
	return c.call(ctx, ExecRequest{
		Target:     target,
		Method:     method,
		ParamTypes: tags,
		Params:     params,
		SessionID:  sessionID,
	})
}

func (c *Client) call(ctx context.Context, req interface{}) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnClosed
	}

	data, err := c.ser.Encode(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		// Unblocks the read below.
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		stop()
		_ = c.conn.SetDeadline(time.Time{})
	}()

	if err := c.conn.WriteMessage(data); err != nil {
		return nil, c.ctxErr(ctx, err)
	}
	reply, err := c.conn.ReadMessage()
	if err != nil {
		return nil, c.ctxErr(ctx, err)
	}

	var resp Response
	if err := c.ser.DecodeInto(reply, &resp); err != nil {
		return nil, errors.Trace(err)
	}
	return resp.Unpack()
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}

// Close tells the server the conversation is over and closes the
// connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	data, err := c.ser.Encode(CloseRequest{})
	if err == nil {
		_ = c.conn.WriteMessage(data)
	}
	return c.conn.Close()
}
