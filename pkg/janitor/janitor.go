// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package janitor reclaims sessions and staged data that the normal
// lifecycle left behind: expired sessions, stale in-flight sessions, stuck
// merges and orphaned staging directories.
package janitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stashbin/stashbin/pkg/blob"
	"github.com/stashbin/stashbin/pkg/logger"
	"github.com/stashbin/stashbin/pkg/staging"
	"github.com/stashbin/stashbin/pkg/store"
	"github.com/stashbin/stashbin/pkg/types"
	"github.com/stashbin/stashbin/pkg/utils"
)

// Defaults applied when the config leaves them zero.
const (
	DefaultExpireInterval = time.Hour
	DefaultStaleInterval  = 30 * time.Minute
	DefaultOrphanInterval = 6 * time.Hour

	// DefaultStaleWindow reclaims pending/uploading sessions nobody has
	// touched.
	DefaultStaleWindow = 2 * time.Hour

	// DefaultProcessingWindow is deliberately longer: a session stuck in
	// processing means a merge was dispatched and never concluded, usually
	// a crash between rollback and persistence. It is failed, not deleted,
	// so the client can re-complete.
	DefaultProcessingWindow = 6 * time.Hour

	DefaultSweepBatch = 500
)

// Config wires the janitor's dependencies and sweep cadence.
type Config struct {
	Store   store.Store
	Staging *staging.Staging
	Blobs   blob.Store

	ExpireInterval time.Duration
	StaleInterval  time.Duration
	OrphanInterval time.Duration

	StaleWindow      time.Duration
	ProcessingWindow time.Duration

	// SweepBatch caps how many sessions one sweep cycle touches.
	SweepBatch int
}

// Janitor runs the periodic sweeps. Each sweep tolerates per-item failures
// and picks the leftovers up on the next cycle.
type Janitor struct {
	cfg Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a janitor.
func New(cfg Config) *Janitor {
	if cfg.ExpireInterval <= 0 {
		cfg.ExpireInterval = DefaultExpireInterval
	}
	if cfg.StaleInterval <= 0 {
		cfg.StaleInterval = DefaultStaleInterval
	}
	if cfg.OrphanInterval <= 0 {
		cfg.OrphanInterval = DefaultOrphanInterval
	}
	if cfg.StaleWindow <= 0 {
		cfg.StaleWindow = DefaultStaleWindow
	}
	if cfg.ProcessingWindow <= 0 {
		cfg.ProcessingWindow = DefaultProcessingWindow
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = DefaultSweepBatch
	}
	return &Janitor{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start launches the sweep loops. All sweeps also run once immediately to
// reconcile state after a restart.
func (j *Janitor) Start(ctx context.Context) {
	logger.Info().
		Dur("expire_interval", j.cfg.ExpireInterval).
		Dur("stale_interval", j.cfg.StaleInterval).
		Dur("orphan_interval", j.cfg.OrphanInterval).
		Msg("janitor: starting")

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.SweepAll(ctx)
	}()

	j.loop(ctx, j.cfg.ExpireInterval, j.SweepExpired)
	j.loop(ctx, j.cfg.StaleInterval, j.SweepStale)
	j.loop(ctx, j.cfg.OrphanInterval, j.SweepOrphans)
}

// SweepAll runs every sweep once, concurrently. The sweeps touch disjoint
// state except for the record deletes, which are single-key atomic, so they
// interleave safely.
func (j *Janitor) SweepAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { j.SweepExpired(ctx); return nil })
	g.Go(func() error { j.SweepStale(ctx); return nil })
	g.Go(func() error { j.SweepOrphans(ctx); return nil })
	g.Wait()
}

// Stop halts the sweep loops and waits for in-flight sweeps to finish.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
	})
	j.wg.Wait()
	logger.Info().Msg("janitor: stopped")
}

func (j *Janitor) loop(ctx context.Context, interval time.Duration, sweep func(context.Context)) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		// Jittered so multiple instances sharing a store do not sweep in
		// lockstep.
		ticks, stop := utils.JitteredTicker(interval, 0.1)
		defer stop()

		for {
			select {
			case <-j.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticks:
				sweep(ctx)
			}
		}
	}()
}

// SweepExpired removes sessions past their absolute deadline regardless of
// status, along with their staged chunks and any merged blob.
func (j *Janitor) SweepExpired(ctx context.Context) {
	sessions, err := j.cfg.Store.ListExpired(ctx, time.Now(), j.cfg.SweepBatch)
	if err != nil {
		logger.Error().Err(err).Msg("janitor: expired listing failed")
		return
	}

	for _, sess := range sessions {
		if err := j.reap(ctx, sess); err != nil {
			logger.Error().Err(err).
				Str("session_id", sess.SessionID).
				Msg("janitor: failed to reap expired session")
			continue
		}
		sessionsExpired.Inc()
		logger.Info().
			Str("session_id", sess.SessionID).
			Str("status", string(sess.Status)).
			Time("expires_at", sess.ExpiresAt).
			Msg("janitor: expired session reaped")
	}
}

// SweepStale reclaims in-flight sessions nobody is driving forward. Idle
// pending/uploading sessions are deleted; sessions stuck in processing past
// the longer window are marked failed so a client retry can rescue them.
func (j *Janitor) SweepStale(ctx context.Context) {
	now := time.Now()

	idle, err := j.cfg.Store.ListStale(ctx,
		[]types.SessionStatus{types.StatusPending, types.StatusUploading},
		now.Add(-j.cfg.StaleWindow), j.cfg.SweepBatch)
	if err != nil {
		logger.Error().Err(err).Msg("janitor: stale listing failed")
		return
	}
	for _, sess := range idle {
		if err := j.reap(ctx, sess); err != nil {
			logger.Error().Err(err).
				Str("session_id", sess.SessionID).
				Msg("janitor: failed to reap stale session")
			continue
		}
		sessionsReaped.Inc()
		logger.Info().
			Str("session_id", sess.SessionID).
			Str("status", string(sess.Status)).
			Time("updated_at", sess.UpdatedAt).
			Msg("janitor: stale session reaped")
	}

	stuck, err := j.cfg.Store.ListStale(ctx,
		[]types.SessionStatus{types.StatusProcessing},
		now.Add(-j.cfg.ProcessingWindow), j.cfg.SweepBatch)
	if err != nil {
		logger.Error().Err(err).Msg("janitor: stuck processing listing failed")
		return
	}
	for _, sess := range stuck {
		err := j.cfg.Store.MarkFailed(ctx, sess.SessionID,
			"merge did not conclude within the processing window")
		if err != nil {
			// A concurrent merge finishing is fine; anything else is not.
			if !errors.Is(err, store.ErrStaleTransition) && !errors.Is(err, store.ErrSessionNotFound) {
				logger.Error().Err(err).
					Str("session_id", sess.SessionID).
					Msg("janitor: failed to fail stuck session")
			}
			continue
		}
		processingFailed.Inc()
		logger.Warn().
			Str("session_id", sess.SessionID).
			Time("updated_at", sess.UpdatedAt).
			Msg("janitor: stuck processing session marked failed")
	}
}

// SweepOrphans removes staging directories with no backing session record,
// left behind by crashes or failed cleanup tasks.
func (j *Janitor) SweepOrphans(ctx context.Context) {
	staged, err := j.cfg.Staging.Sessions(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("janitor: staging listing failed")
		return
	}
	if len(staged) == 0 {
		return
	}

	known, err := j.cfg.Store.SessionIDs(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("janitor: session id listing failed")
		return
	}

	for _, id := range staged {
		if _, ok := known[id]; ok {
			continue
		}
		if err := j.cfg.Staging.RemoveSession(ctx, id); err != nil {
			logger.Error().Err(err).
				Str("session_id", id).
				Msg("janitor: failed to remove orphaned staging dir")
			continue
		}
		orphansRemoved.Inc()
		logger.Info().
			Str("session_id", id).
			Msg("janitor: orphaned staging dir removed")
	}
}

// reap deletes one session's record, staged chunks and merged blob. Record
// deletion goes last so a partial reap is retried on the next cycle.
func (j *Janitor) reap(ctx context.Context, sess *types.UploadSession) error {
	if sess.BlobRef != "" {
		if err := j.cfg.Blobs.Delete(ctx, sess.BlobRef); err != nil {
			return err
		}
	}
	if err := j.cfg.Staging.RemoveSession(ctx, sess.SessionID); err != nil {
		return err
	}
	if err := j.cfg.Store.Delete(ctx, sess.SessionID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return err
	}
	return nil
}
