// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"context"

	"github.com/rs/xid"

	"github.com/luxfi/gxo"
)

// conn is one client connection. Requests on it are handled in order by a
// single goroutine, which owns instances.
type conn struct {
	id        string
	fc        *gxo.FrameConn
	instances map[string]interface{}
}

func newConn(fc *gxo.FrameConn, instances map[string]interface{}) *conn {
	return &conn{
		id:        xid.New().String(),
		fc:        fc,
		instances: instances,
	}
}

func (c *conn) close() {
	if err := c.fc.Close(); err != nil {
		logger.Tracef("closing connection %s: %v", c.id, err)
	}
}

// serve answers requests on c until the client sends a close request, which
// returns nil, or the transport fails.
func (s *Server) serve(ctx context.Context, c *conn) error {
	for {
		data, err := c.fc.ReadMessage()
		if err != nil {
			return err
		}
		reply, closing := s.handle(ctx, c, data)
		if closing {
			return nil
		}
		if err := c.fc.WriteMessage(reply); err != nil {
			return err
		}
	}
}
