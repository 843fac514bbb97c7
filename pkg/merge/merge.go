// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package merge assembles a completed session's staged chunks into a single
// blob storage object.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/stashbin/stashbin/pkg/blob"
	"github.com/stashbin/stashbin/pkg/logger"
	"github.com/stashbin/stashbin/pkg/staging"
	"github.com/stashbin/stashbin/pkg/store"
	"github.com/stashbin/stashbin/pkg/types"
	"github.com/stashbin/stashbin/pkg/utils"
)

// sizeTolerance is the allowed drift between the declared size and the sum
// of merged chunk bytes before the mismatch is logged.
const sizeTolerance = 1024

// Engine streams staged chunks, in index order, into one blob write. It is
// driven by the task worker; every outcome is recorded on the session so
// status polling observes it.
type Engine struct {
	store   store.Store
	staging *staging.Staging
	blobs   blob.Store
}

// NewEngine creates a merge engine.
func NewEngine(st store.Store, stg *staging.Staging, blobs blob.Store) *Engine {
	return &Engine{
		store:   st,
		staging: stg,
		blobs:   blobs,
	}
}

// Merge assembles the session's chunks into a new blob object.
//
// Idempotent with respect to redelivery: a session already completed is a
// no-op, and a failed attempt aborts the blob write so no readable partial
// object is ever left behind. On success the session is marked completed
// with the finalized blob reference; on failure it is marked failed with the
// reason and an incremented retry count.
func (e *Engine) Merge(ctx context.Context, sessionID string) error {
	start := time.Now()

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			// Session deleted between enqueue and dequeue. Nothing to do.
			logger.Warn().
				Str("session_id", sessionID).
				Msg("merge: session vanished before merge")
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}

	switch sess.Status {
	case types.StatusCompleted:
		// Redelivered task for a finished merge.
		return nil
	case types.StatusCancelled:
		logger.Warn().
			Str("session_id", sessionID).
			Msg("merge: session cancelled, skipping")
		return nil
	case types.StatusProcessing:
	case types.StatusFailed:
		// Queue retry after a recorded failure. Re-arm the session so the
		// completion path applies from processing again.
		sess, err = e.store.CASStatus(ctx, sessionID,
			[]types.SessionStatus{types.StatusFailed}, types.StatusProcessing)
		if err != nil {
			if errors.Is(err, store.ErrStaleTransition) {
				// Someone else moved it first; let them own the outcome.
				return nil
			}
			return fmt.Errorf("re-arm failed session: %w", err)
		}
	default:
		// A merge task for a pending/uploading session means the dispatch
		// raced a rollback. MarkFailed would not apply outside processing,
		// so skip rather than retry the task into the dead-letter queue.
		logger.Warn().
			Str("session_id", sessionID).
			Str("status", string(sess.Status)).
			Msg("merge: session not in a mergeable state, skipping")
		return nil
	}

	written, ref, err := e.assemble(ctx, sess)
	if err != nil {
		return e.fail(ctx, sess, err)
	}

	if diff := written - sess.DeclaredSize; diff > sizeTolerance || diff < -sizeTolerance {
		logger.Warn().
			Str("session_id", sessionID).
			Int64("declared_size", sess.DeclaredSize).
			Int64("merged_size", written).
			Msg("merge: merged size differs from declared size")
	}

	if err := e.store.MarkCompleted(ctx, sessionID, ref); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			// Another worker won the race and already finalized. Drop our
			// duplicate object.
			logger.Warn().
				Str("session_id", sessionID).
				Str("blob_ref", ref).
				Msg("merge: lost completion race, discarding duplicate blob")
			if derr := e.blobs.Delete(ctx, ref); derr != nil {
				logger.Error().Err(derr).
					Str("blob_ref", ref).
					Msg("merge: failed to discard duplicate blob")
			}
			return nil
		}
		return fmt.Errorf("mark completed: %w", err)
	}

	// Staged chunks are no longer needed. Failure here is not fatal; the
	// janitor's orphan sweep reclaims leftovers.
	if err := e.staging.RemoveSession(ctx, sessionID); err != nil {
		logger.Warn().Err(err).
			Str("session_id", sessionID).
			Msg("merge: staging cleanup failed, janitor will reclaim")
	}

	mergesCompleted.Inc()
	mergeDuration.Observe(time.Since(start).Seconds())
	mergedBytes.Add(float64(written))

	logger.Info().
		Str("session_id", sessionID).
		Str("blob_ref", ref).
		Str("size", humanize.Bytes(uint64(written))).
		Dur("elapsed", time.Since(start)).
		Msg("merge: session merged")
	return nil
}

// assemble streams chunks 0..TotalChunks-1 into a fresh blob write. On any
// error the write is aborted before returning.
func (e *Engine) assemble(ctx context.Context, sess *types.UploadSession) (int64, string, error) {
	w, err := e.blobs.OpenWrite(ctx, blob.Meta{
		SessionID:    sess.SessionID,
		OriginalName: sess.OriginalName,
		MimeType:     sess.MimeType,
		UploadedBy:   sess.UploadedBy,
	})
	if err != nil {
		return 0, "", fmt.Errorf("open blob write: %w", err)
	}

	var written int64
	for i := 0; i < sess.TotalChunks; i++ {
		n, err := e.copyChunk(ctx, w, sess.SessionID, i)
		if err != nil {
			w.Abort()
			return 0, "", fmt.Errorf("merge chunk %d: %w", i, err)
		}
		written += n
	}

	if err := w.Close(); err != nil {
		w.Abort()
		return 0, "", fmt.Errorf("finalize blob: %w", err)
	}
	return written, w.Ref(), nil
}

// copyBufSize is one pooled buffer per in-flight chunk copy.
const copyBufSize = 256 << 10

func (e *Engine) copyChunk(ctx context.Context, w io.Writer, sessionID string, index int) (int64, error) {
	rc, err := e.staging.OpenChunk(ctx, sessionID, index)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	buf := utils.GetBuffer(copyBufSize)
	defer utils.PutBuffer(buf)
	return io.CopyBuffer(w, rc, buf)
}

// fail records the failure on the session and returns the original error so
// the queue schedules a retry.
func (e *Engine) fail(ctx context.Context, sess *types.UploadSession, cause error) error {
	mergesFailed.Inc()

	if err := e.store.MarkFailed(ctx, sess.SessionID, cause.Error()); err != nil {
		if !errors.Is(err, store.ErrStaleTransition) {
			logger.Error().Err(err).
				Str("session_id", sess.SessionID).
				Msg("merge: failed to record merge failure")
		}
	}

	logger.Error().Err(cause).
		Str("session_id", sess.SessionID).
		Int("retry_count", sess.RetryCount).
		Msg("merge: merge failed")
	return cause
}
