// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package admin

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"gopkg.in/tomb.v2"
)

const shutdownTimeout = 5 * time.Second

// HTTPServer serves a handler until killed. It is a worker.
type HTTPServer struct {
	tomb     tomb.Tomb
	listener net.Listener
	srv      *http.Server
}

// NewHTTPServer listens on addr and serves h.
func NewHTTPServer(addr string, h http.Handler) (*HTTPServer, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "admin listen on %s", addr)
	}
	s := &HTTPServer{
		listener: l,
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.tomb.Go(func() error {
		if err := s.srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return errors.Trace(err)
		}
		return nil
	})
	s.tomb.Go(func() error {
		<-s.tomb.Dying()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Trace(s.srv.Shutdown(ctx))
	})
	logger.Infof("admin endpoint on %s", l.Addr())
	return s, nil
}

// Addr returns the listen address.
func (s *HTTPServer) Addr() string {
	return s.listener.Addr().String()
}

// Kill implements worker.Worker.
func (s *HTTPServer) Kill() {
	s.tomb.Kill(nil)
}

// Wait implements worker.Worker.
func (s *HTTPServer) Wait() error {
	return s.tomb.Wait()
}
