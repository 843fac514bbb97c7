// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package janitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stashbin/stashbin/pkg/debug"
)

var (
	sessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "janitor",
		Name:      "sessions_expired_total",
		Help:      "Total sessions reaped by the expiry sweep",
	})

	sessionsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "janitor",
		Name:      "sessions_reaped_total",
		Help:      "Total idle pending/uploading sessions reaped by the stale sweep",
	})

	processingFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "janitor",
		Name:      "processing_failed_total",
		Help:      "Total stuck processing sessions marked failed",
	})

	orphansRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "janitor",
		Name:      "orphans_removed_total",
		Help:      "Total orphaned staging directories removed",
	})
)

func init() {
	debug.Registry().MustRegister(
		sessionsExpired,
		sessionsReaped,
		processingFailed,
		orphansRemoved,
	)
}
