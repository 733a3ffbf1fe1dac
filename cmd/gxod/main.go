// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command gxod runs a GXO server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/luxfi/gxo/admin"
	"github.com/luxfi/gxo/config"
	"github.com/luxfi/gxo/registry"
	"github.com/luxfi/gxo/server"
	"github.com/luxfi/gxo/session"
)

var logger = loggo.GetLogger("gxo.cmd.gxod")

type flags struct {
	configPath  string
	port        int
	localSocket string
}

// overrides returns the attributes set on the command line.
func (f flags) overrides() map[string]interface{} {
	attrs := make(map[string]interface{})
	if f.port >= 0 {
		attrs[config.PortKey] = f.port
	}
	if f.localSocket != "" {
		attrs[config.LocalSocketKey] = f.localSocket
	}
	return attrs
}

func parseFlags(args []string) (flags, error) {
	f := flags{port: -1}
	fs := gnuflag.NewFlagSet("gxod", gnuflag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path of the YAML configuration file")
	fs.IntVar(&f.port, "port", -1, "network port, overriding the configuration")
	fs.StringVar(&f.localSocket, "local-socket", "", "local channel socket path, overriding the configuration")
	if err := fs.Parse(true, args); err != nil {
		return f, errors.Trace(err)
	}
	if fs.NArg() > 0 {
		return f, errors.Errorf("unexpected arguments %q", fs.Args())
	}
	return f, nil
}

func loadConfig(f flags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Read(f.configPath); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return cfg.Apply(f.overrides())
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "gxod: %v\n", err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, f); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return errors.Trace(err)
	}
	if err := loggo.ConfigureLoggers(cfg.LoggingConfig()); err != nil {
		return errors.Trace(err)
	}

	var workers []worker.Worker
	defer func() {
		for i := len(workers) - 1; i >= 0; i-- {
			if err := worker.Stop(workers[i]); err != nil {
				logger.Warningf("stopping %T: %v", workers[i], err)
			}
		}
	}()

	sessions, err := session.NewIdleManager(session.Config{
		Clock:   clock.WallClock,
		MaxIdle: session.DefaultMaxIdle,
	})
	if err != nil {
		return errors.Trace(err)
	}
	workers = append(workers, sessions)

	var health *admin.Health
	params := server.Params{Registry: registry.New(nil)}
	if addr := cfg.HealthAddress(); addr != "" {
		if health, err = admin.NewHealth(addr); err != nil {
			return errors.Trace(err)
		}
		workers = append(workers, health)
		params.OnStatus = health.SetServing
	}
	if err := params.Registry.Catalog().Declare(SessionsInterface, (*Sessions)(nil)); err != nil {
		return errors.Trace(err)
	}

	srv := server.New(params)
	if err := srv.Registered(sessions, server.RoleSessionManager); err != nil {
		return errors.Trace(err)
	}
	if err := srv.Registered(&sessionService{manager: sessions}, server.RoleService); err != nil {
		return errors.Trace(err)
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(srv, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if addr := cfg.AdminAddress(); addr != "" {
		h, err := admin.NewHandler(srv, metrics)
		if err != nil {
			return errors.Trace(err)
		}
		httpServer, err := admin.NewHTTPServer(addr, h)
		if err != nil {
			return errors.Trace(err)
		}
		workers = append(workers, httpServer)
	}

	if err := srv.Activate(cfg.Server()); err != nil {
		return errors.Trace(err)
	}
	defer srv.Deactivate()

	if f.configPath != "" {
		current := cfg
		w, err := config.NewWatcher(f.configPath, func(next *config.Config) {
			next, err := next.Apply(f.overrides())
			if err != nil {
				logger.Warningf("ignoring config change: %v", err)
				return
			}
			if err := loggo.ConfigureLoggers(next.LoggingConfig()); err != nil {
				logger.Warningf("logging-config: %v", err)
			}
			if next.Server() != current.Server() {
				logger.Infof("listener configuration changed, restarting")
				if err := srv.Reconfigure(next.Server()); err != nil {
					logger.Errorf("reconfiguring: %v", err)
				}
			}
			current = next
		})
		if err != nil {
			return errors.Trace(err)
		}
		// Stopped before the server is deactivated.
		defer worker.Stop(w)
	}

	logger.Infof("gxod running")
	<-ctx.Done()
	logger.Infof("shutting down")
	return nil
}
