// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package janitor

import (
	"context"
	"fmt"

	"github.com/stashbin/stashbin/pkg/staging"
	"github.com/stashbin/stashbin/pkg/taskqueue"
)

// CleanupHandler processes cleanup tasks scheduled by cancel and delete.
// Removal is best effort; anything it misses falls to the orphan sweep.
type CleanupHandler struct {
	staging *staging.Staging
}

// NewCleanupHandler creates a taskqueue handler for staging cleanup.
func NewCleanupHandler(stg *staging.Staging) *CleanupHandler {
	return &CleanupHandler{staging: stg}
}

func (h *CleanupHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeCleanup
}

func (h *CleanupHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[taskqueue.CleanupPayload](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}
	if payload.SessionID == "" {
		return fmt.Errorf("%w: missing session id", taskqueue.ErrInvalidPayload)
	}
	return h.staging.RemoveSession(ctx, payload.SessionID)
}
