// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import "github.com/prometheus/client_golang/prometheus/testutil"

func RequestCount(s *Server, kind string) float64 {
	return testutil.ToFloat64(s.metrics.requests.WithLabelValues(kind))
}

func FaultCount(s *Server, kind string) float64 {
	return testutil.ToFloat64(s.metrics.faults.WithLabelValues(kind))
}

func OpenConnectionsGauge(s *Server) float64 {
	return testutil.ToFloat64(s.metrics.openConns)
}
