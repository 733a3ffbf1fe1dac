// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package admin

import (
	"context"
	"net"

	"github.com/juju/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gopkg.in/tomb.v2"
)

// HealthService is the gRPC health service name reporting on the GXO
// listeners.
const HealthService = "gxo"

// Health serves the standard gRPC health protocol. The GXO service starts
// out NOT_SERVING and follows SetServing. It is a worker.
type Health struct {
	tomb     tomb.Tomb
	listener net.Listener
	grpc     *grpc.Server
	health   *health.Server
}

// NewHealth listens on addr.
func NewHealth(addr string) (*Health, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "health listen on %s", addr)
	}
	h := &Health{
		listener: l,
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.grpc, h.health)
	h.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	h.tomb.Go(func() error {
		return errors.Trace(h.grpc.Serve(l))
	})
	h.tomb.Go(func() error {
		<-h.tomb.Dying()
		h.health.Shutdown()
		h.grpc.GracefulStop()
		return nil
	})
	logger.Infof("health service on %s", l.Addr())
	return h, nil
}

// SetServing reports whether the GXO listeners are active. It fits
// server.Params.OnStatus.
func (h *Health) SetServing(active bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if active {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(HealthService, status)
}

// Addr returns the listen address.
func (h *Health) Addr() string {
	return h.listener.Addr().String()
}

// Kill implements worker.Worker.
func (h *Health) Kill() {
	h.tomb.Kill(nil)
}

// Wait implements worker.Worker.
func (h *Health) Wait() error {
	return h.tomb.Wait()
}

// CheckHealth asks the health service at addr about service.
func CheckHealth(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, errors.Annotatef(err, "grpc dial %s", addr)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, errors.Trace(err)
	}
	return resp.GetStatus(), nil
}
