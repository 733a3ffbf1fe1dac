// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4"
	gc "gopkg.in/check.v1"

	"github.com/luxfi/gxo/config"
)

type watcherSuite struct {
	path    string
	changes chan *config.Config
	watcher *config.Watcher
}

var _ = gc.Suite(&watcherSuite{})

var _ worker.Worker = (*config.Watcher)(nil)

func (s *watcherSuite) SetUpTest(c *gc.C) {
	s.path = filepath.Join(c.MkDir(), "gxod.yaml")
	c.Assert(os.WriteFile(s.path, []byte("port: 1\n"), 0o644), jc.ErrorIsNil)
	s.changes = make(chan *config.Config, 10)
	w, err := config.NewWatcher(s.path, func(cfg *config.Config) {
		s.changes <- cfg
	})
	c.Assert(err, jc.ErrorIsNil)
	s.watcher = w
}

func (s *watcherSuite) TearDownTest(c *gc.C) {
	c.Check(worker.Stop(s.watcher), jc.ErrorIsNil)
}

func (s *watcherSuite) nextPort(c *gc.C) int {
	select {
	case cfg := <-s.changes:
		return cfg.Port()
	case <-time.After(testing.LongWait):
		c.Fatalf("no config change seen")
	}
	return 0
}

func (s *watcherSuite) TestWrite(c *gc.C) {
	c.Assert(os.WriteFile(s.path, []byte("port: 2\n"), 0o644), jc.ErrorIsNil)
	// A write may be seen as several events; wait for the final content.
	for s.nextPort(c) != 2 {
	}
}

func (s *watcherSuite) TestRenameIntoPlace(c *gc.C) {
	s.replace(c, "port: 3\n")
	for s.nextPort(c) != 3 {
	}
}

func (s *watcherSuite) replace(c *gc.C, content string) {
	tmp := s.path + ".new"
	c.Assert(os.WriteFile(tmp, []byte(content), 0o644), jc.ErrorIsNil)
	c.Assert(os.Rename(tmp, s.path), jc.ErrorIsNil)
}

func (s *watcherSuite) TestInvalidContentSkipped(c *gc.C) {
	s.replace(c, "port: many\n")
	select {
	case cfg := <-s.changes:
		c.Fatalf("unexpected reload with port %d", cfg.Port())
	case <-time.After(testing.ShortWait):
	}
	s.replace(c, "port: 4\n")
	for s.nextPort(c) != 4 {
	}
}

func (s *watcherSuite) TestOtherFilesIgnored(c *gc.C) {
	other := filepath.Join(filepath.Dir(s.path), "other.yaml")
	c.Assert(os.WriteFile(other, []byte("port: 5\n"), 0o644), jc.ErrorIsNil)
	select {
	case cfg := <-s.changes:
		c.Fatalf("unexpected reload with port %d", cfg.Port())
	case <-time.After(testing.ShortWait):
	}
}

func (s *watcherSuite) TestNilCallback(c *gc.C) {
	_, err := config.NewWatcher(s.path, nil)
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}
