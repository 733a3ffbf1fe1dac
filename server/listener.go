// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// LocalListener listens on a unix domain socket while holding an exclusive
// flock on a ".lock" file next to it. The lock keeps two servers off the same
// socket but lets a socket orphaned by a crashed server be replaced.
type LocalListener struct {
	path     string
	lockPath string
	lockFile *os.File
	listener net.Listener

	mu       sync.Mutex
	closed   bool
	closeErr error
}

// NewLocalListener locks path+".lock" and listens on path.
func NewLocalListener(path string) (*LocalListener, error) {
	if path == "" {
		return nil, errors.NotValidf("empty socket path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Annotatef(err, "socket path %q", path)
	}
	l := &LocalListener{path: abs, lockPath: abs + ".lock"}

	info, err := os.Stat(abs)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Annotatef(err, "stat %q", abs)
	}
	if info != nil && info.Mode()&os.ModeSocket == 0 {
		return nil, errors.NotValidf("socket path %q of mode %v", abs, info.Mode())
	}

	lockFile, err := os.OpenFile(l.lockPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Annotatef(err, "opening lockfile %q", l.lockPath)
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		logger.Debugf("lock %s: %v", l.lockPath, err)
		return nil, errors.AlreadyExistsf("local channel %q", abs)
	}
	l.lockFile = lockFile

	if info != nil {
		if err := os.Remove(abs); err != nil {
			l.Close()
			return nil, errors.Annotatef(err, "removing orphaned socket %q", abs)
		}
		logger.Debugf("removed orphaned socket %s", abs)
	}
	if l.listener, err = net.Listen("unix", abs); err != nil {
		l.Close()
		return nil, errors.Annotatef(err, "listening on %q", abs)
	}
	return l, nil
}

// Path returns the absolute socket path.
func (l *LocalListener) Path() string {
	return l.path
}

// Accept implements net.Listener.
func (l *LocalListener) Accept() (net.Conn, error) {
	return l.listener.Accept()
}

// Addr implements net.Listener.
func (l *LocalListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops listening, removes the socket and releases the lock. Later
// calls return the result of the first.
func (l *LocalListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return l.closeErr
	}
	l.closed = true

	var err error
	if l.listener != nil {
		os.Remove(l.path)
		err = l.listener.Close()
	}
	if l.lockFile != nil {
		// The lockfile goes before the lock is released, so the next owner
		// can recreate and lock it at once.
		os.Remove(l.lockPath)
		if uerr := unix.Flock(int(l.lockFile.Fd()), unix.LOCK_UN); uerr != nil && err == nil {
			err = errors.Annotatef(uerr, "unlocking %q", l.lockPath)
		}
		if cerr := l.lockFile.Close(); cerr != nil && err == nil {
			err = errors.Annotatef(cerr, "closing %q", l.lockPath)
		}
	}
	l.closeErr = err
	return err
}
