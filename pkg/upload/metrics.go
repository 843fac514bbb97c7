// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stashbin/stashbin/pkg/debug"
)

var (
	sessionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "upload",
		Name:      "sessions_opened_total",
		Help:      "Total number of upload sessions opened",
	})

	sessionsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "upload",
		Name:      "sessions_cancelled_total",
		Help:      "Total number of upload sessions cancelled",
	})

	chunksReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "upload",
		Name:      "chunks_received_total",
		Help:      "Total number of chunks staged",
	})

	chunkBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "upload",
		Name:      "chunk_bytes_total",
		Help:      "Total chunk bytes staged",
	})
)

func init() {
	debug.Registry().MustRegister(
		sessionsOpened,
		sessionsCancelled,
		chunksReceived,
		chunkBytes,
	)
}
