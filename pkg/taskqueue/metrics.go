// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stashbin/stashbin/pkg/debug"
)

var (
	tasksEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "taskqueue",
		Name:      "tasks_enqueued_total",
		Help:      "Total number of tasks enqueued",
	}, []string{"type"})

	tasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "taskqueue",
		Name:      "tasks_completed_total",
		Help:      "Total number of tasks completed successfully",
	}, []string{"type"})

	tasksFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "taskqueue",
		Name:      "tasks_failed_total",
		Help:      "Total number of task attempts that failed",
	}, []string{"type"})

	tasksDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stashbin",
		Subsystem: "taskqueue",
		Name:      "tasks_dead_lettered_total",
		Help:      "Total number of tasks that exhausted their retries",
	}, []string{"type"})
)

func init() {
	debug.Registry().MustRegister(
		tasksEnqueued,
		tasksCompleted,
		tasksFailed,
		tasksDeadLettered,
	)
}
