// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package janitor

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashbin/stashbin/pkg/blob"
	"github.com/stashbin/stashbin/pkg/staging"
	"github.com/stashbin/stashbin/pkg/store"
	"github.com/stashbin/stashbin/pkg/store/memory"
	"github.com/stashbin/stashbin/pkg/taskqueue"
	"github.com/stashbin/stashbin/pkg/types"
)

func newTestJanitor(t *testing.T) (*Janitor, *memory.Memory, *staging.Staging, *blob.Memory) {
	t.Helper()

	st := memory.New()
	stg, err := staging.New(t.TempDir())
	require.NoError(t, err)
	blobs := blob.NewMemory()

	j := New(Config{
		Store:   st,
		Staging: stg,
		Blobs:   blobs,
	})
	return j, st, stg, blobs
}

func addSession(t *testing.T, st *memory.Memory, status types.SessionStatus, updatedAt, expiresAt time.Time) *types.UploadSession {
	t.Helper()

	sess := &types.UploadSession{
		SessionID:      types.NewSessionID(),
		OriginalName:   "data.bin",
		MimeType:       types.DefaultMimeType,
		DeclaredSize:   10,
		TotalChunks:    1,
		UploadedChunks: 1,
		Status:         status,
		CreatedAt:      updatedAt,
		UpdatedAt:      updatedAt,
		ExpiresAt:      expiresAt,
	}
	require.NoError(t, st.Create(context.Background(), sess))
	return sess
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()

	j, st, stg, blobs := newTestJanitor(t)
	ctx := context.Background()
	now := time.Now()

	// Expired regardless of status, staged chunks and blob included.
	expired := addSession(t, st, types.StatusCompleted, now, now.Add(-time.Minute))
	_, err := stg.WriteChunk(ctx, expired.SessionID, 0, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	w, err := blobs.OpenWrite(ctx, blob.Meta{SessionID: expired.SessionID})
	require.NoError(t, err)
	_, err = w.Write([]byte("merged"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	expired.BlobRef = w.Ref()
	require.NoError(t, st.Delete(ctx, expired.SessionID))
	require.NoError(t, st.Create(ctx, expired))

	live := addSession(t, st, types.StatusUploading, now, now.Add(time.Hour))

	j.SweepExpired(ctx)

	_, err = st.Get(ctx, expired.SessionID)
	assert.True(t, errors.Is(err, store.ErrSessionNotFound))
	assert.Equal(t, 0, blobs.Len())

	ids, err := stg.Sessions(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, expired.SessionID)

	_, err = st.Get(ctx, live.SessionID)
	assert.NoError(t, err)
}

func TestSweepStaleIdleSessions(t *testing.T) {
	t.Parallel()

	j, st, stg, _ := newTestJanitor(t)
	ctx := context.Background()
	now := time.Now()

	idle := addSession(t, st, types.StatusUploading, now.Add(-3*time.Hour), now.Add(24*time.Hour))
	_, err := stg.WriteChunk(ctx, idle.SessionID, 0, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	fresh := addSession(t, st, types.StatusUploading, now, now.Add(24*time.Hour))
	// Completed sessions are never stale, only expired.
	done := addSession(t, st, types.StatusCompleted, now.Add(-30*time.Hour), now.Add(24*time.Hour))

	j.SweepStale(ctx)

	_, err = st.Get(ctx, idle.SessionID)
	assert.True(t, errors.Is(err, store.ErrSessionNotFound))

	_, err = st.Get(ctx, fresh.SessionID)
	assert.NoError(t, err)
	_, err = st.Get(ctx, done.SessionID)
	assert.NoError(t, err)
}

func TestSweepStaleStuckProcessing(t *testing.T) {
	t.Parallel()

	j, st, _, _ := newTestJanitor(t)
	ctx := context.Background()
	now := time.Now()

	stuck := addSession(t, st, types.StatusProcessing, now.Add(-7*time.Hour), now.Add(24*time.Hour))
	// Within the processing window, a long merge is left alone.
	active := addSession(t, st, types.StatusProcessing, now.Add(-time.Hour), now.Add(24*time.Hour))

	j.SweepStale(ctx)

	got, err := st.Get(ctx, stuck.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.NotEmpty(t, got.ErrorMessage)

	got, err = st.Get(ctx, active.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, got.Status)
}

func TestSweepOrphans(t *testing.T) {
	t.Parallel()

	j, st, stg, _ := newTestJanitor(t)
	ctx := context.Background()
	now := time.Now()

	tracked := addSession(t, st, types.StatusUploading, now, now.Add(time.Hour))
	_, err := stg.WriteChunk(ctx, tracked.SessionID, 0, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	orphanID := types.NewSessionID()
	_, err = stg.WriteChunk(ctx, orphanID, 0, bytes.NewReader([]byte("y")))
	require.NoError(t, err)

	j.SweepOrphans(ctx)

	ids, err := stg.Sessions(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, tracked.SessionID)
	assert.NotContains(t, ids, orphanID)
}

func TestJanitorStartStop(t *testing.T) {
	t.Parallel()

	j, _, _, _ := newTestJanitor(t)
	j.Start(context.Background())
	j.Stop()
	// Stop is idempotent.
	j.Stop()
}

func TestCleanupHandler(t *testing.T) {
	t.Parallel()

	stg, err := staging.New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	id := types.NewSessionID()
	_, err = stg.WriteChunk(ctx, id, 0, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	h := NewCleanupHandler(stg)
	assert.Equal(t, taskqueue.TaskTypeCleanup, h.Type())

	payload, err := taskqueue.MarshalPayload(taskqueue.CleanupPayload{SessionID: id})
	require.NoError(t, err)
	require.NoError(t, h.Handle(ctx, &taskqueue.Task{Type: taskqueue.TaskTypeCleanup, Payload: payload}))

	ids, err := stg.Sessions(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, id)

	// Redelivery for an already-removed session succeeds.
	require.NoError(t, h.Handle(ctx, &taskqueue.Task{Type: taskqueue.TaskTypeCleanup, Payload: payload}))
}
