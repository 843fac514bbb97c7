// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashbin/stashbin/pkg/store"
	"github.com/stashbin/stashbin/pkg/types"
)

func newSession(status types.SessionStatus, totalChunks int) *types.UploadSession {
	now := time.Now().UTC()
	return &types.UploadSession{
		SessionID:    types.NewSessionID(),
		OriginalName: "file.bin",
		MimeType:     types.DefaultMimeType,
		DeclaredSize: 100,
		TotalChunks:  totalChunks,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()
	sess := newSession(types.StatusPending, 3)

	require.NoError(t, m.Create(ctx, sess))

	got, err := m.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, got.SessionID)

	// Duplicate ids hit the uniqueness guard.
	assert.ErrorIs(t, m.Create(ctx, sess), store.ErrSessionExists)

	_, err = m.Get(ctx, types.NewSessionID())
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()
	sess := newSession(types.StatusPending, 3)
	require.NoError(t, m.Create(ctx, sess))

	got, err := m.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	got.UploadedChunks = 99

	again, err := m.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Zero(t, again.UploadedChunks)
}

func TestAdvanceProgressPrefixOnly(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()
	sess := newSession(types.StatusPending, 3)
	require.NoError(t, m.Create(ctx, sess))

	// Index 0 extends the empty prefix and flips pending to uploading.
	got, err := m.AdvanceProgress(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UploadedChunks)
	assert.Equal(t, types.StatusUploading, got.Status)

	// Out-of-order index 2 does not advance past the gap.
	got, err = m.AdvanceProgress(ctx, sess.SessionID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UploadedChunks)

	// Resubmission of a confirmed index is a no-op.
	got, err = m.AdvanceProgress(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UploadedChunks)

	// The gap filling advances one step at a time.
	got, err = m.AdvanceProgress(ctx, sess.SessionID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UploadedChunks)

	got, err = m.AdvanceProgress(ctx, sess.SessionID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, got.UploadedChunks)

	_, err = m.AdvanceProgress(ctx, types.NewSessionID(), 0)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestAdvanceProgressConcurrent(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()
	sess := newSession(types.StatusPending, 1)
	require.NoError(t, m.Create(ctx, sess))

	// Many concurrent submissions of the same index count exactly once.
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AdvanceProgress(ctx, sess.SessionID, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UploadedChunks)
}

func TestAdvanceProgressRejectedInTerminalStates(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()

	for _, status := range []types.SessionStatus{
		types.StatusProcessing, types.StatusCompleted, types.StatusCancelled,
	} {
		sess := newSession(status, 3)
		require.NoError(t, m.Create(ctx, sess))

		got, err := m.AdvanceProgress(ctx, sess.SessionID, 0)
		require.NoError(t, err)
		assert.Zero(t, got.UploadedChunks, "status %s", status)
		assert.Equal(t, status, got.Status)
	}
}

func TestCASStatus(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()
	sess := newSession(types.StatusUploading, 1)
	require.NoError(t, m.Create(ctx, sess))

	got, err := m.CASStatus(ctx, sess.SessionID,
		[]types.SessionStatus{types.StatusUploading, types.StatusFailed},
		types.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, got.Status)

	// Condition no longer holds.
	_, err = m.CASStatus(ctx, sess.SessionID,
		[]types.SessionStatus{types.StatusUploading},
		types.StatusProcessing)
	assert.ErrorIs(t, err, store.ErrStaleTransition)

	_, err = m.CASStatus(ctx, types.NewSessionID(),
		[]types.SessionStatus{types.StatusUploading},
		types.StatusProcessing)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestMarkCompletedAndFailed(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()

	sess := newSession(types.StatusProcessing, 1)
	require.NoError(t, m.Create(ctx, sess))

	require.NoError(t, m.MarkCompleted(ctx, sess.SessionID, "blob-ref-1"))
	got, err := m.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, "blob-ref-1", got.BlobRef)

	// Completed is terminal for both marks.
	assert.ErrorIs(t, m.MarkCompleted(ctx, sess.SessionID, "other"), store.ErrStaleTransition)
	assert.ErrorIs(t, m.MarkFailed(ctx, sess.SessionID, "boom"), store.ErrStaleTransition)

	failed := newSession(types.StatusProcessing, 1)
	require.NoError(t, m.Create(ctx, failed))
	require.NoError(t, m.MarkFailed(ctx, failed.SessionID, "disk full"))

	got, err = m.Get(ctx, failed.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, "disk full", got.ErrorMessage)
	assert.Equal(t, 1, got.RetryCount)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()
	sess := newSession(types.StatusPending, 1)
	require.NoError(t, m.Create(ctx, sess))

	require.NoError(t, m.Delete(ctx, sess.SessionID))
	assert.ErrorIs(t, m.Delete(ctx, sess.SessionID), store.ErrSessionNotFound)
}

func TestListFilterSortPage(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sess := newSession(types.StatusUploading, 1)
		sess.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		sess.DeclaredSize = int64(100 - i)
		require.NoError(t, m.Create(ctx, sess))
	}
	done := newSession(types.StatusCompleted, 1)
	require.NoError(t, m.Create(ctx, done))

	all, total, err := m.List(ctx, store.ListFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, all, 6)

	uploading, total, err := m.List(ctx, store.ListFilter{
		Status: types.StatusUploading, Page: 1, Limit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, uploading, 5)

	// Paging.
	page2, total, err := m.List(ctx, store.ListFilter{Page: 2, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, page2, 2)

	// Sorting by size ascending.
	bySize, _, err := m.List(ctx, store.ListFilter{
		Status: types.StatusUploading, Page: 1, Limit: 10,
		SortBy: "declared_size", SortOrder: store.SortAsc,
	})
	require.NoError(t, err)
	for i := 1; i < len(bySize); i++ {
		assert.LessOrEqual(t, bySize[i-1].DeclaredSize, bySize[i].DeclaredSize)
	}
}

func TestListExpiredAndStale(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()
	now := time.Now()

	expired := newSession(types.StatusCompleted, 1)
	expired.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, m.Create(ctx, expired))

	stale := newSession(types.StatusUploading, 1)
	stale.UpdatedAt = now.Add(-3 * time.Hour)
	require.NoError(t, m.Create(ctx, stale))

	fresh := newSession(types.StatusUploading, 1)
	require.NoError(t, m.Create(ctx, fresh))

	got, err := m.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.SessionID, got[0].SessionID)

	got, err = m.ListStale(ctx,
		[]types.SessionStatus{types.StatusPending, types.StatusUploading},
		now.Add(-2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.SessionID, got[0].SessionID)
}

func TestSessionIDs(t *testing.T) {
	t.Parallel()

	m := New()
	ctx := context.Background()

	a := newSession(types.StatusPending, 1)
	b := newSession(types.StatusCompleted, 1)
	require.NoError(t, m.Create(ctx, a))
	require.NoError(t, m.Create(ctx, b))

	ids, err := m.SessionIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, a.SessionID)
	assert.Contains(t, ids, b.SessionID)
}
