// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory store.Store for tests and local
// development. Records are not persisted.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stashbin/stashbin/pkg/store"
	"github.com/stashbin/stashbin/pkg/types"
)

// Compile-time interface verification
var _ store.Store = (*Memory)(nil)

// Memory implements store.Store with a mutex-guarded map. Every conditional
// update runs under the lock, so the CAS semantics match a real database's
// single-statement conditional update.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*types.UploadSession
}

// New creates an empty in-memory store.
func New() *Memory {
	return &Memory{
		sessions: make(map[string]*types.UploadSession),
	}
}

func (m *Memory) Create(ctx context.Context, sess *types.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sess.SessionID]; exists {
		return store.ErrSessionExists
	}
	m.sessions[sess.SessionID] = sess.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (m *Memory) AdvanceProgress(ctx context.Context, sessionID string, index int) (*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}

	writable := sess.Status == types.StatusPending ||
		sess.Status == types.StatusUploading ||
		sess.Status == types.StatusFailed

	if writable && sess.UploadedChunks == index {
		sess.UploadedChunks = index + 1
		sess.Status = types.StatusUploading
		sess.UpdatedAt = time.Now().UTC()
	}
	return sess.Clone(), nil
}

func (m *Memory) CASStatus(ctx context.Context, sessionID string, from []types.SessionStatus, to types.SessionStatus) (*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}

	for _, f := range from {
		if sess.Status == f {
			sess.Status = to
			sess.UpdatedAt = time.Now().UTC()
			return sess.Clone(), nil
		}
	}
	return nil, store.ErrStaleTransition
}

func (m *Memory) MarkCompleted(ctx context.Context, sessionID, blobRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return store.ErrSessionNotFound
	}
	if sess.Status != types.StatusProcessing {
		return store.ErrStaleTransition
	}

	sess.Status = types.StatusCompleted
	sess.BlobRef = blobRef
	sess.ErrorMessage = ""
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, sessionID, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return store.ErrSessionNotFound
	}
	if sess.Status != types.StatusProcessing {
		return store.ErrStaleTransition
	}

	sess.Status = types.StatusFailed
	sess.ErrorMessage = errorMessage
	sess.RetryCount++
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return store.ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *Memory) List(ctx context.Context, filter store.ListFilter) ([]*types.UploadSession, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*types.UploadSession
	for _, sess := range m.sessions {
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		matched = append(matched, sess.Clone())
	}

	sortSessions(matched, filter.SortBy, filter.SortOrder)

	total := len(matched)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}

	start := (page - 1) * limit
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (m *Memory) ListExpired(ctx context.Context, now time.Time, limit int) ([]*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.UploadSession
	for _, sess := range m.sessions {
		if sess.IsExpired(now) {
			out = append(out, sess.Clone())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListStale(ctx context.Context, statuses []types.SessionStatus, cutoff time.Time, limit int) ([]*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	match := make(map[types.SessionStatus]struct{}, len(statuses))
	for _, s := range statuses {
		match[s] = struct{}{}
	}

	var out []*types.UploadSession
	for _, sess := range m.sessions {
		if _, ok := match[sess.Status]; !ok {
			continue
		}
		if sess.UpdatedAt.Before(cutoff) {
			out = append(out, sess.Clone())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) SessionIDs(ctx context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[string]struct{}, len(m.sessions))
	for id := range m.sessions {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (m *Memory) Close() error {
	return nil
}

func sortSessions(sessions []*types.UploadSession, sortBy string, order store.SortOrder) {
	less := func(a, b *types.UploadSession) bool {
		switch sortBy {
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "declared_size":
			return a.DeclaredSize < b.DeclaredSize
		case "original_name":
			return strings.Compare(a.OriginalName, b.OriginalName) < 0
		default: // created_at
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		if order == store.SortAsc {
			return less(sessions[i], sessions[j])
		}
		return less(sessions[j], sessions[i])
	})
}
