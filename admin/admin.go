// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package admin exposes a GXO server to operators: a JSON-RPC 2.0 status
// service, Prometheus metrics and a gRPC health service.
package admin

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/gxo/server"
)

var logger = loggo.GetLogger("gxo.admin")

// Endpoint paths.
const (
	RPCPath     = "/rpc"
	MetricsPath = "/metrics"
)

// StatusSource is the part of the GXO server the admin service reports on.
type StatusSource interface {
	Status() server.Status
}

// NoArgs is the argument of admin methods that take none.
type NoArgs struct{}

// ServicesReply lists what clients can call.
type ServicesReply struct {
	Services        []string `json:"services"`
	Instantiatables []string `json:"instantiatables"`
}

// Service is the "Admin" JSON-RPC service.
type Service struct {
	source StatusSource
}

// Status returns the server status.
func (s *Service) Status(_ *http.Request, _ *NoArgs, reply *server.Status) error {
	*reply = s.source.Status()
	return nil
}

// Services returns the published service interfaces and class names.
func (s *Service) Services(_ *http.Request, _ *NoArgs, reply *ServicesReply) error {
	st := s.source.Status()
	reply.Services = st.Services
	reply.Instantiatables = st.Instantiatables
	return nil
}

// NewHandler routes the admin endpoints. Metrics come from gatherer.
func NewHandler(source StatusSource, gatherer prometheus.Gatherer) (http.Handler, error) {
	if source == nil {
		return nil, errors.NotValidf("nil status source")
	}
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json2.NewCodec(), "application/json")
	if err := rpcServer.RegisterService(&Service{source: source}, "Admin"); err != nil {
		return nil, errors.Annotate(err, "registering admin service")
	}

	router := mux.NewRouter()
	router.Handle(RPCPath, rpcServer).Methods(http.MethodPost)
	if gatherer != nil {
		router.Handle(MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router, nil
}
