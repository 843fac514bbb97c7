// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package merge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stashbin/stashbin/pkg/debug"
)

var (
	mergesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "merge",
		Name:      "completed_total",
		Help:      "Total number of sessions merged successfully",
	})

	mergesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "merge",
		Name:      "failed_total",
		Help:      "Total number of merge attempts that failed",
	})

	mergedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "merge",
		Name:      "bytes_total",
		Help:      "Total bytes written to blob storage by merges",
	})

	mergeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stashbin",
		Subsystem: "merge",
		Name:      "duration_seconds",
		Help:      "Merge duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func init() {
	debug.Registry().MustRegister(
		mergesCompleted,
		mergesFailed,
		mergedBytes,
		mergeDuration,
	)
}
