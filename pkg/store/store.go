// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package store defines the durable session record store.
//
// All mutation goes through atomic single-record conditional updates; the
// store never exposes read-modify-write to callers. AdvanceProgress is the
// sole synchronization point for concurrent chunk submissions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stashbin/stashbin/pkg/types"
)

// Common errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	// ErrStaleTransition means a conditional status update did not apply
	// because the stored status was not in the expected set.
	ErrStaleTransition = errors.New("stale status transition")
)

// Driver identifies a session store backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
)

// SortOrder for List.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListFilter selects and pages sessions.
type ListFilter struct {
	// Status filters to one status when non-empty.
	Status types.SessionStatus

	// Page is 1-based; Limit caps the page size.
	Page  int
	Limit int

	// SortBy is one of created_at, updated_at, declared_size, original_name.
	SortBy    string
	SortOrder SortOrder
}

// Store is the durable record store for upload sessions.
type Store interface {
	// Create persists a new session record. Fails with ErrSessionExists if
	// the id is already taken; the uniqueness constraint is the authoritative
	// guard against id collisions.
	Create(ctx context.Context, sess *types.UploadSession) error

	// Get returns the session or ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*types.UploadSession, error)

	// AdvanceProgress conditionally advances UploadedChunks to index+1.
	// The update applies only if the stored counter equals index at the
	// moment of update (the chunk extends the confirmed prefix exactly) and
	// the status admits chunk writes (pending, uploading or failed); pending
	// and failed flip to uploading as part of the same atomic update.
	// Resubmissions (stored > index) and out-of-order arrivals (stored <
	// index) leave the counter untouched. Whether or not the condition held,
	// the returned session is the authoritative post-update record. Returns
	// ErrSessionNotFound if the record vanished.
	AdvanceProgress(ctx context.Context, sessionID string, index int) (*types.UploadSession, error)

	// CASStatus atomically sets the status to `to` iff the stored status is
	// one of `from`. Returns the updated session, or ErrStaleTransition with
	// no mutation if the condition failed.
	CASStatus(ctx context.Context, sessionID string, from []types.SessionStatus, to types.SessionStatus) (*types.UploadSession, error)

	// MarkCompleted moves a processing session to completed and records the
	// finalized blob reference. Returns ErrStaleTransition if the session is
	// not processing.
	MarkCompleted(ctx context.Context, sessionID, blobRef string) error

	// MarkFailed moves a processing session to failed, records the failure
	// reason and increments the retry counter.
	MarkFailed(ctx context.Context, sessionID, errorMessage string) error

	// Delete removes the record. Returns ErrSessionNotFound if absent.
	Delete(ctx context.Context, sessionID string) error

	// List returns a page of sessions plus the total match count.
	List(ctx context.Context, filter ListFilter) ([]*types.UploadSession, int, error)

	// ListExpired returns sessions whose ExpiresAt is before now, any status.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*types.UploadSession, error)

	// ListStale returns sessions in the given statuses whose UpdatedAt is
	// before the cutoff.
	ListStale(ctx context.Context, statuses []types.SessionStatus, cutoff time.Time, limit int) ([]*types.UploadSession, error)

	// SessionIDs returns the set of all known session ids, for staging
	// reconciliation.
	SessionIDs(ctx context.Context) (map[string]struct{}, error)

	// Close releases the underlying resources.
	Close() error
}
