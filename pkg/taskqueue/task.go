// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue provides a task queue for background processing.
//
// Use cases:
// - Merge: assembling a completed session's chunks into blob storage
// - Cleanup: best-effort removal of staged chunks after cancel/delete
package taskqueue

import (
	"encoding/json"
	"time"
)

// Default configuration values
const (
	DefaultPollInterval = time.Second
	DefaultConcurrency  = 4
	DefaultMaxRetries   = 3
)

// TaskType identifies the type of task for routing to handlers.
type TaskType string

const (
	// TaskTypeMerge assembles a session's staged chunks into one blob.
	TaskTypeMerge TaskType = "merge"
	// TaskTypeCleanup removes a session's staging directory.
	TaskTypeCleanup TaskType = "cleanup"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"     // Waiting to be picked up
	StatusRunning    TaskStatus = "running"     // Currently being processed
	StatusCompleted  TaskStatus = "completed"   // Successfully finished
	StatusDeadLetter TaskStatus = "dead_letter" // Failed permanently
	StatusCancelled  TaskStatus = "cancelled"   // Cancelled by user/system
)

// Task represents a unit of work to be processed.
type Task struct {
	ID     string     `json:"id"`
	Type   TaskType   `json:"type"`
	Status TaskStatus `json:"status"`

	// Payload - JSON encoded task-specific data
	Payload json.RawMessage `json:"payload"`

	// Scheduling
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Retry handling
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	RetryAfter time.Time `json:"retry_after,omitempty"`

	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	WorkerID  string    `json:"worker_id,omitempty"`
}

// MergePayload is the payload for TaskTypeMerge.
type MergePayload struct {
	SessionID string `json:"session_id"`
}

// CleanupPayload is the payload for TaskTypeCleanup.
type CleanupPayload struct {
	SessionID string `json:"session_id"`
}

// TaskFilter for querying tasks.
type TaskFilter struct {
	Type   TaskType   `json:"type,omitempty"`
	Status TaskStatus `json:"status,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// QueueStats provides queue metrics.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Running    int64 `json:"running"`
	Completed  int64 `json:"completed"`
	DeadLetter int64 `json:"dead_letter"`

	ByType map[TaskType]int64 `json:"by_type"`
}

// MarshalPayload is a helper to marshal a payload struct to JSON.
func MarshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// UnmarshalPayload is a helper to unmarshal a JSON payload.
func UnmarshalPayload[T any](payload json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}
