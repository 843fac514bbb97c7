// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"context"
	"io"
	"sync"
)

func init() {
	Register(StorageTypeMemory, func(cfg Config) (Store, error) {
		return NewMemory(), nil
	})
}

// Memory implements Store in process memory. For tests only; nothing is
// persisted and objects are visible only after Close commits them.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory creates an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Type() StorageType {
	return StorageTypeMemory
}

func (m *Memory) OpenWrite(ctx context.Context, meta Meta) (WriteStream, error) {
	return &memoryWriteStream{store: m, ref: NewRef()}, nil
}

func (m *Memory) OpenRead(ctx context.Context, ref string) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.objects[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) OpenReadRange(ctx context.Context, ref string, offset, length int64) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.objects[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if offset < 0 || offset > int64(len(data)) {
		offset = int64(len(data))
	}
	end := int64(len(data))
	if length > 0 && offset+length < end {
		end = offset + length
	}
	return io.NopCloser(bytes.NewReader(data[offset:end])), nil
}

func (m *Memory) Stat(ctx context.Context, ref string) (*Info, error) {
	m.mu.RLock()
	data, ok := m.objects[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &Info{Ref: ref, Size: int64(len(data))}, nil
}

func (m *Memory) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	delete(m.objects, ref)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Len returns the number of committed objects (for tests).
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

type memoryWriteStream struct {
	store   *Memory
	ref     string
	buf     bytes.Buffer
	aborted bool
	closed  bool
}

func (w *memoryWriteStream) Write(p []byte) (int, error) {
	if w.aborted {
		return 0, ErrAborted
	}
	return w.buf.Write(p)
}

func (w *memoryWriteStream) Close() error {
	if w.aborted {
		return ErrAborted
	}
	if w.closed {
		return nil
	}
	w.store.mu.Lock()
	w.store.objects[w.ref] = append([]byte(nil), w.buf.Bytes()...)
	w.store.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memoryWriteStream) Abort() error {
	if w.closed || w.aborted {
		return nil
	}
	w.aborted = true
	w.buf.Reset()
	return nil
}

func (w *memoryWriteStream) Ref() string {
	return w.ref
}
