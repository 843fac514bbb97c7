// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload implements the chunked upload session lifecycle: open,
// chunk submission with prefix progress tracking, completion handoff to the
// merge queue, cancellation, status, listing and download.
package upload

import (
	"context"
	"io"
	"time"

	"github.com/stashbin/stashbin/pkg/blob"
	"github.com/stashbin/stashbin/pkg/staging"
	"github.com/stashbin/stashbin/pkg/store"
	"github.com/stashbin/stashbin/pkg/taskqueue"
	"github.com/stashbin/stashbin/pkg/types"
)

// Limits applied when the config leaves them zero.
const (
	DefaultMaxObjectSize = int64(5) << 30 // 5 GiB
	DefaultMaxChunks     = 10000
	DefaultSessionTTL    = 24 * time.Hour
)

// OpenRequest describes a new upload session.
type OpenRequest struct {
	FileName     string
	DeclaredSize int64
	MimeType     string
	TotalChunks  int
	UploadedBy   string
}

// OpenResult is returned from Open.
type OpenResult struct {
	SessionID string
	ExpiresAt time.Time
}

// SubmitChunkRequest carries one chunk's bytes and position.
type SubmitChunkRequest struct {
	SessionID string
	// ChunkIndex is 0-based.
	ChunkIndex int
	// TotalChunks is the client's declared total, cross-checked against the
	// session record.
	TotalChunks int
	Body        io.Reader
}

// Progress reports confirmed prefix progress after a chunk submission.
type Progress struct {
	SessionID      string
	UploadedChunks int
	TotalChunks    int
	Status         types.SessionStatus
}

// CompleteResult is returned from Complete.
type CompleteResult struct {
	Status types.SessionStatus
	// AlreadyProcessed is set when the session had already reached
	// processing or completed before this call.
	AlreadyProcessed bool
}

// SessionView is the read model returned by status and list operations.
type SessionView struct {
	SessionID      string              `json:"session_id"`
	OriginalName   string              `json:"original_name"`
	MimeType       string              `json:"mime_type"`
	DeclaredSize   int64               `json:"declared_size"`
	TotalChunks    int                 `json:"total_chunks"`
	UploadedChunks int                 `json:"uploaded_chunks"`
	Status         types.SessionStatus `json:"status"`
	Progress       float64             `json:"progress"`
	UploadedBy     string              `json:"uploaded_by,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	RetryCount     int                 `json:"retry_count"`
	Expired        bool                `json:"expired"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	ExpiresAt      time.Time           `json:"expires_at"`
}

// ListRequest selects and pages sessions.
type ListRequest struct {
	Status    types.SessionStatus
	Page      int
	Limit     int
	SortBy    string
	SortOrder store.SortOrder
}

// ListResult is one page of sessions.
type ListResult struct {
	Sessions []*SessionView `json:"sessions"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	Limit    int            `json:"limit"`
}

// DownloadRequest asks for a completed session's object, optionally a byte
// range in HTTP Range header syntax.
type DownloadRequest struct {
	SessionID string
	Range     string
}

// Download is an open object stream. The caller owns Body and must close it.
type Download struct {
	Body         io.ReadCloser
	OriginalName string
	MimeType     string

	// Size is the number of bytes in Body; TotalSize is the full object
	// size. They differ for range reads.
	Size      int64
	TotalSize int64
	Offset    int64
	Partial   bool
}

// Service is the upload session lifecycle API.
type Service interface {
	// Open registers a new session in the pending state.
	Open(ctx context.Context, req *OpenRequest) (*OpenResult, error)

	// SubmitChunk stages one chunk and advances the confirmed prefix
	// counter over every contiguously staged chunk, so submitting all
	// indices once in any order confirms the full total. Resubmissions
	// are accepted without double counting.
	SubmitChunk(ctx context.Context, req *SubmitChunkRequest) (*Progress, error)

	// Complete verifies all chunks are confirmed and staged, moves the
	// session to processing and hands it to the merge queue. The merge runs
	// asynchronously; callers observe the outcome via GetStatus.
	Complete(ctx context.Context, sessionID string) (*CompleteResult, error)

	// Cancel abandons a pending or uploading session and schedules staging
	// cleanup.
	Cancel(ctx context.Context, sessionID string) error

	// GetStatus returns the session's current view.
	GetStatus(ctx context.Context, sessionID string) (*SessionView, error)

	// Delete removes the session record plus any staged chunks and merged
	// blob.
	Delete(ctx context.Context, sessionID string) error

	// List returns a page of sessions.
	List(ctx context.Context, req *ListRequest) (*ListResult, error)

	// Download streams a completed session's merged object.
	Download(ctx context.Context, req *DownloadRequest) (*Download, error)
}

// Config wires the service's dependencies and limits.
type Config struct {
	Store   store.Store
	Staging *staging.Staging
	Blobs   blob.Store
	Queue   taskqueue.Queue

	// MaxObjectSize caps the declared size of a session.
	MaxObjectSize int64

	// MaxChunks caps the declared chunk count of a session.
	MaxChunks int

	// SessionTTL is the absolute lifetime granted at open time.
	SessionTTL time.Duration
}

// NewService creates the upload service.
func NewService(cfg Config) Service {
	if cfg.MaxObjectSize <= 0 {
		cfg.MaxObjectSize = DefaultMaxObjectSize
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = DefaultMaxChunks
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	return &serviceImpl{cfg: cfg}
}
