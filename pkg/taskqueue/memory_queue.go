// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface verification
var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-process implementation of Queue. Tasks are not
// persisted across restarts; crash recovery for merges comes from the
// janitor's stuck-processing sweep, not from the queue.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool
}

// NewMemoryQueue creates a new in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		tasks: make(map[string]*Task),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	now := time.Now()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	q.tasks[task.ID] = task

	tasksEnqueued.WithLabelValues(string(task.Type)).Inc()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	now := time.Now()
	var oldest *Task

	for _, task := range q.tasks {
		if task.Status != StatusPending {
			continue
		}
		if task.ScheduledAt.After(now) {
			continue
		}
		if !task.RetryAfter.IsZero() && task.RetryAfter.After(now) {
			continue
		}
		if len(taskTypes) > 0 && !typeMatches(task.Type, taskTypes) {
			continue
		}
		if oldest == nil || task.ScheduledAt.Before(oldest.ScheduledAt) {
			oldest = task
		}
	}

	if oldest == nil {
		return nil, nil
	}

	oldest.Status = StatusRunning
	oldest.WorkerID = workerID
	startTime := now
	oldest.StartedAt = &startTime
	oldest.UpdatedAt = now

	return oldest, nil
}

func typeMatches(t TaskType, set []TaskType) bool {
	for _, s := range set {
		if t == s {
			return true
		}
	}
	return false
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	now := time.Now()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	task.UpdatedAt = now

	tasksCompleted.WithLabelValues(string(task.Type)).Inc()
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, taskID string, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	task.Attempts++
	task.LastError = err.Error()
	task.UpdatedAt = time.Now()

	tasksFailed.WithLabelValues(string(task.Type)).Inc()

	if task.Attempts >= task.MaxRetries {
		task.Status = StatusDeadLetter
		tasksDeadLettered.WithLabelValues(string(task.Type)).Inc()
	} else {
		// Exponential backoff: 1s, 2s, 4s, 8s...
		backoff := time.Duration(1<<task.Attempts) * time.Second
		task.RetryAfter = time.Now().Add(backoff)
		task.Status = StatusPending
		task.WorkerID = ""
	}

	return nil
}

func (q *MemoryQueue) Cancel(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	task.Status = StatusCancelled
	task.UpdatedAt = time.Now()
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (q *MemoryQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result []*Task
	for _, task := range q.tasks {
		if filter.Type != "" && task.Type != filter.Type {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		result = append(result, task)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &QueueStats{
		ByType: make(map[TaskType]int64),
	}

	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusDeadLetter:
			stats.DeadLetter++
		}
		stats.ByType[task.Type]++
	}

	return stats, nil
}

func (q *MemoryQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	count := 0

	for id, task := range q.tasks {
		if task.Status == StatusCompleted || task.Status == StatusCancelled {
			if task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
				delete(q.tasks, id)
				count++
			}
		}
	}

	return count, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
