// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob provides append-capable object storage for finalized uploads.
// All backends implement the Store interface and register themselves via
// Register.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound = errors.New("blob not found")
	// ErrAborted is returned from Close after Abort has discarded the stream.
	ErrAborted = errors.New("blob write aborted")
)

// StorageType identifies a blob backend.
type StorageType string

const (
	StorageTypeLocal  StorageType = "local"
	StorageTypeMemory StorageType = "memory"
	StorageTypeS3     StorageType = "s3"
)

// Config holds backend configuration.
type Config struct {
	Type StorageType

	// Path is the base directory for the local backend.
	Path string

	// S3 settings
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Meta tags a stored object with the upload it came from.
type Meta struct {
	SessionID    string
	OriginalName string
	MimeType     string
	UploadedBy   string
}

// Info describes a stored object.
type Info struct {
	Ref  string
	Size int64
}

// WriteStream is an in-progress object write. Exactly one of Close or Abort
// must be called; Abort discards the partial object so it is never readable.
type WriteStream interface {
	io.Writer

	// Close finalizes the object and makes it readable under Ref.
	Close() error

	// Abort discards everything written so far. Safe to call after a failed
	// Close; never leaves a readable partial object behind.
	Abort() error

	// Ref returns the object identifier assigned at open time.
	Ref() string
}

// Store is append-capable object storage.
type Store interface {
	// OpenWrite starts a new object write tagged with meta.
	OpenWrite(ctx context.Context, meta Meta) (WriteStream, error)

	// OpenRead streams a stored object. Returns ErrNotFound if absent.
	OpenRead(ctx context.Context, ref string) (io.ReadCloser, error)

	// OpenReadRange streams length bytes starting at offset. length <= 0
	// means to the end of the object.
	OpenReadRange(ctx context.Context, ref string, offset, length int64) (io.ReadCloser, error)

	// Stat returns object metadata. Returns ErrNotFound if absent.
	Stat(ctx context.Context, ref string) (*Info, error)

	// Delete removes an object. Deleting an absent object is not an error.
	Delete(ctx context.Context, ref string) error

	Type() StorageType

	Close() error
}

// NewRef generates a random object identifier (128-bit, lowercase hex).
func NewRef() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Registry holds registered backend factories
var (
	registryMu sync.RWMutex
	registry   = make(map[StorageType]Factory)
)

// Factory creates a Store from config
type Factory func(cfg Config) (Store, error)

// Register adds a factory for a storage type
func Register(t StorageType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates a Store from config
func New(cfg Config) (Store, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown blob storage type: %s", cfg.Type)
	}
	return f(cfg)
}
