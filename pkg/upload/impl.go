// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stashbin/stashbin/pkg/blob"
	"github.com/stashbin/stashbin/pkg/logger"
	"github.com/stashbin/stashbin/pkg/store"
	"github.com/stashbin/stashbin/pkg/taskqueue"
	"github.com/stashbin/stashbin/pkg/types"
	"github.com/stashbin/stashbin/pkg/utils"
)

// idCollisionRetries bounds the open loop; the store's uniqueness constraint
// is the authoritative guard.
const idCollisionRetries = 3

type serviceImpl struct {
	cfg Config
}

var _ Service = (*serviceImpl)(nil)

func (s *serviceImpl) Open(ctx context.Context, req *OpenRequest) (*OpenResult, error) {
	name := utils.SanitizeFilename(req.FileName)
	if name == "" {
		return nil, validationErr("file name is empty or unusable after sanitization")
	}
	if req.DeclaredSize <= 0 {
		return nil, validationErr("declared size must be positive")
	}
	if req.DeclaredSize > s.cfg.MaxObjectSize {
		return nil, validationErr(fmt.Sprintf("declared size exceeds limit of %d bytes", s.cfg.MaxObjectSize))
	}
	if req.TotalChunks < 1 {
		return nil, validationErr("total chunks must be at least 1")
	}
	if req.TotalChunks > s.cfg.MaxChunks {
		return nil, validationErr(fmt.Sprintf("total chunks exceeds limit of %d", s.cfg.MaxChunks))
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = types.DefaultMimeType
	}

	for attempt := 0; attempt < idCollisionRetries; attempt++ {
		now := time.Now()
		sess := &types.UploadSession{
			SessionID:    types.NewSessionID(),
			OriginalName: name,
			MimeType:     mimeType,
			DeclaredSize: req.DeclaredSize,
			TotalChunks:  req.TotalChunks,
			Status:       types.StatusPending,
			UploadedBy:   req.UploadedBy,
			CreatedAt:    now,
			UpdatedAt:    now,
			ExpiresAt:    now.Add(s.cfg.SessionTTL),
		}

		err := s.cfg.Store.Create(ctx, sess)
		if err == nil {
			logger.Info().
				Str("session_id", sess.SessionID).
				Str("original_name", name).
				Int64("declared_size", req.DeclaredSize).
				Int("total_chunks", req.TotalChunks).
				Msg("upload: session opened")
			sessionsOpened.Inc()
			return &OpenResult{SessionID: sess.SessionID, ExpiresAt: sess.ExpiresAt}, nil
		}
		if errors.Is(err, store.ErrSessionExists) {
			continue
		}
		return nil, internalErr("failed to create session", err)
	}
	return nil, conflictErr("could not allocate a unique session id")
}

func (s *serviceImpl) SubmitChunk(ctx context.Context, req *SubmitChunkRequest) (*Progress, error) {
	if !types.ValidSessionID(req.SessionID) {
		return nil, validationErr("malformed session id")
	}
	if req.ChunkIndex < 0 {
		return nil, validationErr("chunk index must be non-negative")
	}

	sess, err := s.getSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if req.ChunkIndex >= sess.TotalChunks {
		return nil, validationErr(fmt.Sprintf("chunk index %d out of range for %d chunks",
			req.ChunkIndex, sess.TotalChunks))
	}
	if req.TotalChunks != sess.TotalChunks {
		return nil, validationErr(fmt.Sprintf("declared total of %d chunks does not match session total of %d",
			req.TotalChunks, sess.TotalChunks))
	}

	switch sess.Status {
	case types.StatusPending, types.StatusUploading, types.StatusFailed:
	default:
		return nil, uploadErr(fmt.Sprintf("session is %s and no longer accepts chunks", sess.Status))
	}

	n, err := s.cfg.Staging.WriteChunk(ctx, req.SessionID, req.ChunkIndex, req.Body)
	if err != nil {
		return nil, internalErr("failed to stage chunk", err)
	}
	chunksReceived.Inc()
	chunkBytes.Add(float64(n))

	updated, err := s.cfg.Store.AdvanceProgress(ctx, req.SessionID, req.ChunkIndex)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			// Session deleted between stage and advance; drop the orphan.
			if rerr := s.cfg.Staging.RemoveChunk(ctx, req.SessionID, req.ChunkIndex); rerr != nil {
				logger.Warn().Err(rerr).
					Str("session_id", req.SessionID).
					Int("chunk_index", req.ChunkIndex).
					Msg("upload: orphan chunk cleanup failed")
			}
			return nil, notFoundErr("session not found")
		}
		return nil, internalErr("failed to record chunk progress", err)
	}

	// Chunks may arrive in any order. If this submission closed a gap, pull
	// the counter forward over everything already staged past it; each step
	// is a single conditional update, so concurrent submitters stay safe.
	for updated.UploadedChunks < updated.TotalChunks {
		staged, serr := s.cfg.Staging.HasChunk(ctx, req.SessionID, updated.UploadedChunks)
		if serr != nil || !staged {
			break
		}
		next, aerr := s.cfg.Store.AdvanceProgress(ctx, req.SessionID, updated.UploadedChunks)
		if aerr != nil || next.UploadedChunks == updated.UploadedChunks {
			break
		}
		updated = next
	}

	logger.Debug().
		Str("session_id", req.SessionID).
		Int("chunk_index", req.ChunkIndex).
		Int64("bytes", n).
		Int("uploaded_chunks", updated.UploadedChunks).
		Msg("upload: chunk staged")

	return &Progress{
		SessionID:      updated.SessionID,
		UploadedChunks: updated.UploadedChunks,
		TotalChunks:    updated.TotalChunks,
		Status:         updated.Status,
	}, nil
}

func (s *serviceImpl) Complete(ctx context.Context, sessionID string) (*CompleteResult, error) {
	if !types.ValidSessionID(sessionID) {
		return nil, validationErr("malformed session id")
	}

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case types.StatusCompleted:
		return &CompleteResult{Status: types.StatusCompleted, AlreadyProcessed: true}, nil
	case types.StatusProcessing:
		return &CompleteResult{Status: types.StatusProcessing, AlreadyProcessed: true}, nil
	case types.StatusCancelled:
		return nil, uploadErr("session is cancelled")
	}

	if !sess.Complete() {
		return nil, uploadErr(fmt.Sprintf("upload incomplete: %d of %d chunks confirmed",
			sess.UploadedChunks, sess.TotalChunks))
	}

	// The counter says all chunks were confirmed; verify the bytes are still
	// physically staged before committing to a merge.
	missing, err := s.cfg.Staging.MissingChunks(ctx, sessionID, sess.TotalChunks)
	if err != nil {
		return nil, internalErr("failed to verify staged chunks", err)
	}
	if len(missing) > 0 {
		return nil, uploadErr(fmt.Sprintf("staged data missing for chunks %v, re-upload required", missing))
	}

	_, err = s.cfg.Store.CASStatus(ctx, sessionID,
		[]types.SessionStatus{types.StatusUploading, types.StatusFailed},
		types.StatusProcessing)
	if err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			// Raced with another Complete or a cancel. Report what won.
			current, gerr := s.getSession(ctx, sessionID)
			if gerr != nil {
				return nil, gerr
			}
			switch current.Status {
			case types.StatusCompleted, types.StatusProcessing:
				return &CompleteResult{Status: current.Status, AlreadyProcessed: true}, nil
			default:
				return nil, uploadErr(fmt.Sprintf("session is %s and cannot be completed", current.Status))
			}
		}
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, notFoundErr("session not found")
		}
		return nil, internalErr("failed to transition session to processing", err)
	}

	payload, err := taskqueue.MarshalPayload(taskqueue.MergePayload{SessionID: sessionID})
	if err != nil {
		return nil, internalErr("failed to encode merge task", err)
	}
	if err := s.cfg.Queue.Enqueue(ctx, &taskqueue.Task{
		Type:    taskqueue.TaskTypeMerge,
		Payload: payload,
	}); err != nil {
		// The session would sit in processing forever with no merge task.
		// Record the dispatch failure so a retry can re-complete it.
		if merr := s.cfg.Store.MarkFailed(ctx, sessionID, "merge dispatch failed: "+err.Error()); merr != nil {
			logger.Error().Err(merr).
				Str("session_id", sessionID).
				Msg("upload: failed to record merge dispatch failure")
		}
		return nil, internalErr("failed to schedule merge", err)
	}

	logger.Info().
		Str("session_id", sessionID).
		Msg("upload: session completed, merge scheduled")
	return &CompleteResult{Status: types.StatusProcessing}, nil
}

func (s *serviceImpl) Cancel(ctx context.Context, sessionID string) error {
	if !types.ValidSessionID(sessionID) {
		return validationErr("malformed session id")
	}

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	switch sess.Status {
	case types.StatusCancelled:
		return nil
	case types.StatusPending, types.StatusUploading:
	default:
		return uploadErr(fmt.Sprintf("session is %s and cannot be cancelled", sess.Status))
	}

	_, err = s.cfg.Store.CASStatus(ctx, sessionID,
		[]types.SessionStatus{types.StatusPending, types.StatusUploading},
		types.StatusCancelled)
	if err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			current, gerr := s.getSession(ctx, sessionID)
			if gerr != nil {
				return gerr
			}
			if current.Status == types.StatusCancelled {
				return nil
			}
			return uploadErr(fmt.Sprintf("session is %s and cannot be cancelled", current.Status))
		}
		if errors.Is(err, store.ErrSessionNotFound) {
			return notFoundErr("session not found")
		}
		return internalErr("failed to cancel session", err)
	}
	sessionsCancelled.Inc()

	s.scheduleCleanup(ctx, sessionID)

	logger.Info().
		Str("session_id", sessionID).
		Msg("upload: session cancelled")
	return nil
}

func (s *serviceImpl) GetStatus(ctx context.Context, sessionID string) (*SessionView, error) {
	if !types.ValidSessionID(sessionID) {
		return nil, validationErr("malformed session id")
	}

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return newSessionView(sess, time.Now()), nil
}

func (s *serviceImpl) Delete(ctx context.Context, sessionID string) error {
	if !types.ValidSessionID(sessionID) {
		return validationErr("malformed session id")
	}

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if sess.BlobRef != "" {
		if err := s.cfg.Blobs.Delete(ctx, sess.BlobRef); err != nil {
			return internalErr("failed to delete stored object", err)
		}
	}
	if err := s.cfg.Staging.RemoveSession(ctx, sessionID); err != nil {
		logger.Warn().Err(err).
			Str("session_id", sessionID).
			Msg("upload: staging cleanup failed during delete, janitor will reclaim")
	}

	if err := s.cfg.Store.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return notFoundErr("session not found")
		}
		return internalErr("failed to delete session record", err)
	}

	logger.Info().
		Str("session_id", sessionID).
		Msg("upload: session deleted")
	return nil
}

func (s *serviceImpl) List(ctx context.Context, req *ListRequest) (*ListResult, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, validationErr(fmt.Sprintf("unknown status filter %q", req.Status))
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit < 1 || limit > 1000 {
		limit = 50
	}

	sessions, total, err := s.cfg.Store.List(ctx, store.ListFilter{
		Status:    req.Status,
		Page:      page,
		Limit:     limit,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		return nil, internalErr("failed to list sessions", err)
	}

	now := time.Now()
	views := make([]*SessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, newSessionView(sess, now))
	}
	return &ListResult{Sessions: views, Total: total, Page: page, Limit: limit}, nil
}

func (s *serviceImpl) Download(ctx context.Context, req *DownloadRequest) (*Download, error) {
	if !types.ValidSessionID(req.SessionID) {
		return nil, validationErr("malformed session id")
	}

	sess, err := s.getSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != types.StatusCompleted || sess.BlobRef == "" {
		return nil, notFoundErr("session has no completed object")
	}

	info, err := s.cfg.Blobs.Stat(ctx, sess.BlobRef)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, notFoundErr("stored object is missing")
		}
		return nil, internalErr("failed to stat stored object", err)
	}

	dl := &Download{
		OriginalName: sess.OriginalName,
		MimeType:     sess.MimeType,
		TotalSize:    info.Size,
	}

	if req.Range == "" {
		rc, err := s.cfg.Blobs.OpenRead(ctx, sess.BlobRef)
		if err != nil {
			return nil, internalErr("failed to open stored object", err)
		}
		dl.Body = rc
		dl.Size = info.Size
		return dl, nil
	}

	offset, length, ok := parseRangeHeader(req.Range, info.Size)
	if !ok {
		return nil, validationErr("unsatisfiable byte range")
	}
	rc, err := s.cfg.Blobs.OpenReadRange(ctx, sess.BlobRef, offset, length)
	if err != nil {
		return nil, internalErr("failed to open stored object range", err)
	}
	dl.Body = rc
	dl.Size = length
	dl.Offset = offset
	dl.Partial = true
	return dl, nil
}

// getSession maps store errors into the service error taxonomy.
func (s *serviceImpl) getSession(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	sess, err := s.cfg.Store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, notFoundErr("session not found")
		}
		return nil, internalErr("failed to load session", err)
	}
	return sess, nil
}

// scheduleCleanup enqueues best-effort staging removal. Cancellation already
// succeeded, so enqueue failure only delays reclamation until a janitor sweep.
func (s *serviceImpl) scheduleCleanup(ctx context.Context, sessionID string) {
	payload, err := taskqueue.MarshalPayload(taskqueue.CleanupPayload{SessionID: sessionID})
	if err != nil {
		logger.Error().Err(err).
			Str("session_id", sessionID).
			Msg("upload: failed to encode cleanup task")
		return
	}
	if err := s.cfg.Queue.Enqueue(ctx, &taskqueue.Task{
		Type:    taskqueue.TaskTypeCleanup,
		Payload: payload,
	}); err != nil {
		logger.Warn().Err(err).
			Str("session_id", sessionID).
			Msg("upload: failed to schedule staging cleanup")
	}
}

func newSessionView(sess *types.UploadSession, now time.Time) *SessionView {
	return &SessionView{
		SessionID:      sess.SessionID,
		OriginalName:   sess.OriginalName,
		MimeType:       sess.MimeType,
		DeclaredSize:   sess.DeclaredSize,
		TotalChunks:    sess.TotalChunks,
		UploadedChunks: sess.UploadedChunks,
		Status:         sess.Status,
		Progress:       sess.Progress(),
		UploadedBy:     sess.UploadedBy,
		ErrorMessage:   sess.ErrorMessage,
		RetryCount:     sess.RetryCount,
		Expired:        sess.IsExpired(now),
		CreatedAt:      sess.CreatedAt,
		UpdatedAt:      sess.UpdatedAt,
		ExpiresAt:      sess.ExpiresAt,
	}
}
