// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package merge

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashbin/stashbin/pkg/blob"
	"github.com/stashbin/stashbin/pkg/staging"
	"github.com/stashbin/stashbin/pkg/store/memory"
	"github.com/stashbin/stashbin/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, *memory.Memory, *staging.Staging, *blob.Memory) {
	t.Helper()

	st := memory.New()
	stg, err := staging.New(t.TempDir())
	require.NoError(t, err)
	blobs := blob.NewMemory()

	return NewEngine(st, stg, blobs), st, stg, blobs
}

func seedSession(t *testing.T, st *memory.Memory, stg *staging.Staging, chunks [][]byte) *types.UploadSession {
	t.Helper()

	ctx := context.Background()
	var size int64
	for _, c := range chunks {
		size += int64(len(c))
	}

	sess := &types.UploadSession{
		SessionID:      types.NewSessionID(),
		OriginalName:   "report.pdf",
		MimeType:       "application/pdf",
		DeclaredSize:   size,
		TotalChunks:    len(chunks),
		UploadedChunks: len(chunks),
		Status:         types.StatusProcessing,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, st.Create(ctx, sess))

	for i, c := range chunks {
		_, err := stg.WriteChunk(ctx, sess.SessionID, i, bytes.NewReader(c))
		require.NoError(t, err)
	}
	return sess
}

func TestMergeConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	engine, st, stg, blobs := newTestEngine(t)
	ctx := context.Background()

	chunks := [][]byte{
		bytes.Repeat([]byte{0xAA}, 100),
		bytes.Repeat([]byte{0xBB}, 100),
		bytes.Repeat([]byte{0xCC}, 50),
	}
	sess := seedSession(t, st, stg, chunks)

	require.NoError(t, engine.Merge(ctx, sess.SessionID))

	got, err := st.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	require.NotEmpty(t, got.BlobRef)

	rc, err := blobs.OpenRead(ctx, got.BlobRef)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, bytes.Join(chunks, nil), data)

	// Staged chunks are gone after a successful merge.
	ids, err := stg.Sessions(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, sess.SessionID)
}

func TestMergeIdempotentOnCompleted(t *testing.T) {
	t.Parallel()

	engine, st, stg, blobs := newTestEngine(t)
	ctx := context.Background()

	sess := seedSession(t, st, stg, [][]byte{[]byte("hello")})
	require.NoError(t, engine.Merge(ctx, sess.SessionID))
	require.NoError(t, engine.Merge(ctx, sess.SessionID))

	// Only the first merge produced an object.
	assert.Equal(t, 1, blobs.Len())
}

func TestMergeMissingChunkFails(t *testing.T) {
	t.Parallel()

	engine, st, stg, blobs := newTestEngine(t)
	ctx := context.Background()

	sess := seedSession(t, st, stg, [][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	})
	require.NoError(t, stg.RemoveChunk(ctx, sess.SessionID, 1))

	err := engine.Merge(ctx, sess.SessionID)
	require.Error(t, err)

	got, err := st.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.NotEmpty(t, got.ErrorMessage)

	// The aborted write never became a readable object.
	assert.Equal(t, 0, blobs.Len())
}

func TestMergeRetriesFromFailed(t *testing.T) {
	t.Parallel()

	engine, st, stg, blobs := newTestEngine(t)
	ctx := context.Background()

	chunks := [][]byte{[]byte("alpha"), []byte("beta")}
	sess := seedSession(t, st, stg, chunks)
	require.NoError(t, stg.RemoveChunk(ctx, sess.SessionID, 1))

	require.Error(t, engine.Merge(ctx, sess.SessionID))

	// Re-stage the missing chunk, as a client resubmission would.
	_, err := stg.WriteChunk(ctx, sess.SessionID, 1, bytes.NewReader(chunks[1]))
	require.NoError(t, err)

	require.NoError(t, engine.Merge(ctx, sess.SessionID))

	got, err := st.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, 1, blobs.Len())
}

func TestMergeVanishedSessionIsNoop(t *testing.T) {
	t.Parallel()

	engine, _, _, blobs := newTestEngine(t)

	require.NoError(t, engine.Merge(context.Background(), types.NewSessionID()))
	assert.Equal(t, 0, blobs.Len())
}

func TestMergeNotMergeableStateIsSkipped(t *testing.T) {
	t.Parallel()

	engine, st, stg, blobs := newTestEngine(t)
	ctx := context.Background()

	sess := seedSession(t, st, stg, [][]byte{[]byte("data")})
	sess.Status = types.StatusUploading
	require.NoError(t, st.Delete(ctx, sess.SessionID))
	require.NoError(t, st.Create(ctx, sess))

	// A task for a session that never reached processing is dropped, not
	// retried, and leaves the session untouched.
	require.NoError(t, engine.Merge(ctx, sess.SessionID))

	got, err := st.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUploading, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 0, blobs.Len())
}

func TestMergeCancelledSessionIsNoop(t *testing.T) {
	t.Parallel()

	engine, st, stg, blobs := newTestEngine(t)
	ctx := context.Background()

	sess := seedSession(t, st, stg, [][]byte{[]byte("data")})
	sess.Status = types.StatusCancelled
	require.NoError(t, st.Delete(ctx, sess.SessionID))
	require.NoError(t, st.Create(ctx, sess))

	require.NoError(t, engine.Merge(ctx, sess.SessionID))
	assert.Equal(t, 0, blobs.Len())
}
