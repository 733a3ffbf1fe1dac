// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server_test

import (
	"net"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/luxfi/gxo/server"
)

type listenerSuite struct{}

var _ = gc.Suite(&listenerSuite{})

func (s *listenerSuite) TestLockHeld(c *gc.C) {
	path := filepath.Join(c.MkDir(), "a.sock")
	l, err := server.NewLocalListener(path)
	c.Assert(err, jc.ErrorIsNil)

	_, err = server.NewLocalListener(path)
	c.Check(err, jc.Satisfies, errors.IsAlreadyExists)

	c.Assert(l.Close(), jc.ErrorIsNil)
	c.Check(l.Close(), jc.ErrorIsNil)
	_, err = os.Stat(path)
	c.Check(os.IsNotExist(err), jc.IsTrue)
	_, err = os.Stat(path + ".lock")
	c.Check(os.IsNotExist(err), jc.IsTrue)

	l, err = server.NewLocalListener(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(l.Close(), jc.ErrorIsNil)
}

func (s *listenerSuite) TestOrphanedSocketReplaced(c *gc.C) {
	path := filepath.Join(c.MkDir(), "orphan.sock")
	orphan, err := net.Listen("unix", path)
	c.Assert(err, jc.ErrorIsNil)
	// Leave the socket file behind, like a crashed server would.
	orphan.(*net.UnixListener).SetUnlinkOnClose(false)
	c.Assert(orphan.Close(), jc.ErrorIsNil)

	l, err := server.NewLocalListener(path)
	c.Assert(err, jc.ErrorIsNil)
	defer l.Close()
	c.Check(l.Path(), gc.Equals, path)

	done := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
		done <- err
	}()
	conn, err := net.Dial("unix", path)
	c.Assert(err, jc.ErrorIsNil)
	conn.Close()
	c.Check(<-done, jc.ErrorIsNil)
}

func (s *listenerSuite) TestNotASocket(c *gc.C) {
	path := filepath.Join(c.MkDir(), "plain")
	c.Assert(os.WriteFile(path, []byte("x"), 0o644), jc.ErrorIsNil)
	_, err := server.NewLocalListener(path)
	c.Check(err, jc.Satisfies, errors.IsNotValid)

	_, err = server.NewLocalListener("")
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}
