// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stashbin/stashbin/pkg/store"
	"github.com/stashbin/stashbin/pkg/types"

	"github.com/jackc/pgx/v5/pgconn"
)

const sessionColumns = `session_id, original_name, mime_type, declared_size, total_chunks,
	uploaded_chunks, status, blob_ref, uploaded_by, error_message, retry_count,
	created_at, updated_at, expires_at`

func (p *Postgres) Create(ctx context.Context, sess *types.UploadSession) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO upload_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		sess.SessionID,
		sess.OriginalName,
		sess.MimeType,
		sess.DeclaredSize,
		sess.TotalChunks,
		sess.UploadedChunks,
		string(sess.Status),
		sess.BlobRef,
		sess.UploadedBy,
		sess.ErrorMessage,
		sess.RetryCount,
		sess.CreatedAt,
		sess.UpdatedAt,
		sess.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 = unique_violation: the primary key is the authoritative
		// guard against session id collisions.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return store.ErrSessionExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM upload_sessions WHERE session_id = $1
	`, sessionID)
	return scanSession(row)
}

func (p *Postgres) AdvanceProgress(ctx context.Context, sessionID string, index int) (*types.UploadSession, error) {
	// Single-statement CAS: the counter only moves to index+1 when the
	// chunk extends the confirmed prefix exactly, and pending/failed flip
	// to uploading in the same statement. Resubmissions and out-of-order
	// arrivals match zero rows and leave the record untouched.
	_, err := p.db.ExecContext(ctx, `
		UPDATE upload_sessions
		SET uploaded_chunks = $2, status = 'uploading', updated_at = $3
		WHERE session_id = $1
		  AND uploaded_chunks = $4
		  AND status IN ('pending', 'uploading', 'failed')
	`, sessionID, index+1, time.Now().UTC(), index)
	if err != nil {
		return nil, fmt.Errorf("advance progress: %w", err)
	}

	// Report the authoritative post-update record whether or not the
	// condition held.
	return p.Get(ctx, sessionID)
}

func (p *Postgres) CASStatus(ctx context.Context, sessionID string, from []types.SessionStatus, to types.SessionStatus) (*types.UploadSession, error) {
	if len(from) == 0 {
		return nil, store.ErrStaleTransition
	}

	placeholders := make([]string, len(from))
	args := []any{sessionID, string(to), time.Now().UTC()}
	for i, s := range from {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, string(s))
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE upload_sessions
		SET status = $2, updated_at = $3
		WHERE session_id = $1 AND status IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("cas status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("cas status rows: %w", err)
	}
	if affected == 0 {
		// Distinguish a lost race from a vanished record.
		if _, getErr := p.Get(ctx, sessionID); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrStaleTransition
	}

	return p.Get(ctx, sessionID)
}

func (p *Postgres) MarkCompleted(ctx context.Context, sessionID, blobRef string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE upload_sessions
		SET status = 'completed', blob_ref = $2, error_message = '', updated_at = $3
		WHERE session_id = $1 AND status = 'processing'
	`, sessionID, blobRef, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return checkTransitionApplied(ctx, p, sessionID, res)
}

func (p *Postgres) MarkFailed(ctx context.Context, sessionID, errorMessage string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE upload_sessions
		SET status = 'failed', error_message = $2, retry_count = retry_count + 1, updated_at = $3
		WHERE session_id = $1 AND status = 'processing'
	`, sessionID, errorMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return checkTransitionApplied(ctx, p, sessionID, res)
}

func (p *Postgres) Delete(ctx context.Context, sessionID string) error {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM upload_sessions WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows: %w", err)
	}
	if affected == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// sortColumns whitelists List sort keys; anything else falls back to created_at.
var sortColumns = map[string]string{
	"created_at":    "created_at",
	"updated_at":    "updated_at",
	"declared_size": "declared_size",
	"original_name": "original_name",
}

func (p *Postgres) List(ctx context.Context, filter store.ListFilter) ([]*types.UploadSession, int, error) {
	where := ""
	args := []any{}
	if filter.Status != "" {
		where = " WHERE status = $1"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_sessions`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	col, ok := sortColumns[filter.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if filter.SortOrder == store.SortAsc {
		dir = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT `+sessionColumns+` FROM upload_sessions%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, where, col, dir, len(args)+1, len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (p *Postgres) ListExpired(ctx context.Context, now time.Time, limit int) ([]*types.UploadSession, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM upload_sessions
		WHERE expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (p *Postgres) ListStale(ctx context.Context, statuses []types.SessionStatus, cutoff time.Time, limit int) ([]*types.UploadSession, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := []any{cutoff}
	for i, s := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, string(s))
	}
	args = append(args, limitOrDefault(limit))

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+sessionColumns+` FROM upload_sessions
		WHERE updated_at < $1 AND status IN (%s)
		ORDER BY updated_at
		LIMIT $%d
	`, strings.Join(placeholders, ", "), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (p *Postgres) SessionIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT session_id FROM upload_sessions`)
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}

func checkTransitionApplied(ctx context.Context, p *Postgres, sessionID string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := p.Get(ctx, sessionID); getErr != nil {
			return getErr
		}
		return store.ErrStaleTransition
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.UploadSession, error) {
	var sess types.UploadSession
	var status string
	err := row.Scan(
		&sess.SessionID,
		&sess.OriginalName,
		&sess.MimeType,
		&sess.DeclaredSize,
		&sess.TotalChunks,
		&sess.UploadedChunks,
		&status,
		&sess.BlobRef,
		&sess.UploadedBy,
		&sess.ErrorMessage,
		&sess.RetryCount,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = types.SessionStatus(status)
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*types.UploadSession, error) {
	var sessions []*types.UploadSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
