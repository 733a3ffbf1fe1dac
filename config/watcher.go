// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"
)

// Watcher rereads a configuration file whenever it changes and hands the
// result to a callback. Files that fail to parse are logged and skipped.
type Watcher struct {
	tomb   tomb.Tomb
	path   string
	fsw    *fsnotify.Watcher
	reload func(*Config)
}

// NewWatcher starts watching path. The directory is watched rather than
// the file, so that editors replacing the file by rename are noticed.
func NewWatcher(path string, reload func(*Config)) (*Watcher, error) {
	if reload == nil {
		return nil, errors.NotValidf("nil reload callback")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Annotate(err, "creating file watcher")
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, errors.Annotatef(err, "watching %s", filepath.Dir(abs))
	}
	w := &Watcher{path: abs, fsw: fsw, reload: reload}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill implements worker.Worker.
func (w *Watcher) Kill() {
	w.tomb.Kill(nil)
}

// Wait implements worker.Worker.
func (w *Watcher) Wait() error {
	return w.tomb.Wait()
}

func (w *Watcher) loop() error {
	defer w.fsw.Close()
	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Read(w.path)
			if err != nil {
				logger.Warningf("ignoring config change: %v", err)
				continue
			}
			logger.Infof("config %s changed", w.path)
			w.reload(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			logger.Warningf("watching %s: %v", w.path, err)
		}
	}
}
