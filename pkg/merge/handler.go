// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package merge

import (
	"context"
	"fmt"

	"github.com/stashbin/stashbin/pkg/taskqueue"
)

// Handler adapts the Engine to the task worker.
type Handler struct {
	engine *Engine
}

// NewHandler creates a taskqueue handler backed by the engine.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeMerge
}

func (h *Handler) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[taskqueue.MergePayload](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}
	if payload.SessionID == "" {
		return fmt.Errorf("%w: missing session id", taskqueue.ErrInvalidPayload)
	}
	return h.engine.Merge(ctx, payload.SessionID)
}
