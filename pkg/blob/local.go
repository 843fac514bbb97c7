// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func init() {
	Register(StorageTypeLocal, NewLocal)
}

// Local implements Store on the local filesystem. In-progress writes live
// under a .partial directory and are renamed into place on Close, so a
// partially written object is never readable under its ref.
type Local struct {
	basePath string
}

// NewLocal creates a local filesystem blob store.
func NewLocal(cfg Config) (Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path required for local blob store")
	}
	if err := os.MkdirAll(filepath.Join(cfg.Path, ".partial"), 0o755); err != nil {
		return nil, fmt.Errorf("create blob base path: %w", err)
	}
	return &Local{basePath: cfg.Path}, nil
}

func (l *Local) Type() StorageType {
	return StorageTypeLocal
}

func (l *Local) objectPath(ref string) string {
	return filepath.Join(l.basePath, ref)
}

func (l *Local) partialPath(ref string) string {
	return filepath.Join(l.basePath, ".partial", ref)
}

func (l *Local) OpenWrite(ctx context.Context, meta Meta) (WriteStream, error) {
	ref := NewRef()
	f, err := os.Create(l.partialPath(ref))
	if err != nil {
		return nil, fmt.Errorf("create partial object: %w", err)
	}
	return &localWriteStream{
		store: l,
		ref:   ref,
		file:  f,
	}, nil
}

func (l *Local) OpenRead(ctx context.Context, ref string) (io.ReadCloser, error) {
	f, err := os.Open(l.objectPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (l *Local) OpenReadRange(ctx context.Context, ref string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(l.objectPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek: %w", err)
	}

	if length > 0 {
		return &limitedReadCloser{
			Reader: io.LimitReader(f, length),
			Closer: f,
		}, nil
	}
	return f, nil
}

func (l *Local) Stat(ctx context.Context, ref string) (*Info, error) {
	info, err := os.Stat(l.objectPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Info{Ref: ref, Size: info.Size()}, nil
}

func (l *Local) Delete(ctx context.Context, ref string) error {
	err := os.Remove(l.objectPath(ref))
	if os.IsNotExist(err) {
		return nil // Already gone
	}
	return err
}

func (l *Local) Close() error {
	return nil
}

type localWriteStream struct {
	store   *Local
	ref     string
	file    *os.File
	aborted bool
	closed  bool
}

func (w *localWriteStream) Write(p []byte) (int, error) {
	if w.aborted {
		return 0, ErrAborted
	}
	return w.file.Write(p)
}

func (w *localWriteStream) Close() error {
	if w.aborted {
		return ErrAborted
	}
	if w.closed {
		return nil
	}

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync object: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(w.store.partialPath(w.ref), w.store.objectPath(w.ref)); err != nil {
		return fmt.Errorf("finalize object: %w", err)
	}
	w.closed = true
	return nil
}

func (w *localWriteStream) Abort() error {
	if w.closed || w.aborted {
		return nil
	}
	w.aborted = true
	w.file.Close()
	err := os.Remove(w.store.partialPath(w.ref))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (w *localWriteStream) Ref() string {
	return w.ref
}

// limitedReadCloser wraps a limited reader with a closer
type limitedReadCloser struct {
	io.Reader
	io.Closer
}
