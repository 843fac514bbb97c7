// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package staging holds chunk bytes between submission and merge: one
// directory per session, one file per chunk index.
package staging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// chunkNameWidth zero-pads chunk file names so lexical order equals index
// order during directory iteration.
const chunkNameWidth = 6

// Staging is a filesystem scratch area for in-flight sessions.
type Staging struct {
	basePath string
}

// New creates the staging root if needed.
func New(basePath string) (*Staging, error) {
	if basePath == "" {
		return nil, fmt.Errorf("staging: path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Staging{basePath: basePath}, nil
}

// Path returns the staging root.
func (s *Staging) Path() string {
	return s.basePath
}

func (s *Staging) sessionDir(sessionID string) string {
	return filepath.Join(s.basePath, sessionID)
}

func (s *Staging) chunkPath(sessionID string, index int) string {
	return filepath.Join(s.sessionDir(sessionID), chunkName(index))
}

func chunkName(index int) string {
	return fmt.Sprintf("%0*d", chunkNameWidth, index)
}

// WriteChunk durably stages chunk bytes under (sessionID, index). The write
// goes to a temp file, is synced, then renamed into place, so a crash never
// leaves a partially written chunk under its final name. Rewriting an
// existing index replaces the previous bytes.
func (s *Staging) WriteChunk(ctx context.Context, sessionID string, index int, data io.Reader) (int64, error) {
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, chunkName(index)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create chunk temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write chunk data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("sync chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close chunk: %w", err)
	}

	if err := os.Rename(tmpPath, s.chunkPath(sessionID, index)); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename chunk: %w", err)
	}
	return n, nil
}

// OpenChunk opens a staged chunk for reading.
func (s *Staging) OpenChunk(ctx context.Context, sessionID string, index int) (io.ReadCloser, error) {
	f, err := os.Open(s.chunkPath(sessionID, index))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("chunk %d not staged for session %s", index, sessionID)
		}
		return nil, err
	}
	return f, nil
}

// HasChunk reports whether a chunk is physically present.
func (s *Staging) HasChunk(ctx context.Context, sessionID string, index int) (bool, error) {
	_, err := os.Stat(s.chunkPath(sessionID, index))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// MissingChunks returns the indices in [0, totalChunks) with no staged file.
func (s *Staging) MissingChunks(ctx context.Context, sessionID string, totalChunks int) ([]int, error) {
	var missing []int
	for i := 0; i < totalChunks; i++ {
		ok, err := s.HasChunk(ctx, sessionID, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// RemoveChunk deletes one staged chunk. Missing files are not an error.
func (s *Staging) RemoveChunk(ctx context.Context, sessionID string, index int) error {
	err := os.Remove(s.chunkPath(sessionID, index))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RemoveSession deletes a session's entire staging directory.
func (s *Staging) RemoveSession(ctx context.Context, sessionID string) error {
	return os.RemoveAll(s.sessionDir(sessionID))
}

// Sessions lists the session ids that have a staging directory, sorted.
func (s *Staging) Sessions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("read staging root: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SessionSize sums the bytes currently staged for a session.
func (s *Staging) SessionSize(ctx context.Context, sessionID string) (int64, error) {
	entries, err := os.ReadDir(s.sessionDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// ChunkIndices returns the staged chunk indices for a session in ascending
// order, skipping temp files left by interrupted writes.
func (s *Staging) ChunkIndices(ctx context.Context, sessionID string) ([]int, error) {
	entries, err := os.ReadDir(s.sessionDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var indices []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}
