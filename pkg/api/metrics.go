// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stashbin/stashbin/pkg/debug"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total HTTP requests by method and status",
	}, []string{"method", "status"})

	requestsThrottled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "api",
		Name:      "requests_throttled_total",
		Help:      "Total requests rejected by admission control",
	})
)

func init() {
	debug.Registry().MustRegister(
		httpRequests,
		requestsThrottled,
	)
}
