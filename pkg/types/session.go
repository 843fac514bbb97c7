// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// SessionIDLength is the length of a session identifier: a random 128-bit
// value encoded as lowercase hex.
const SessionIDLength = 32

// DefaultMimeType is used when a client declares no content type.
const DefaultMimeType = "application/octet-stream"

// SessionStatus represents the lifecycle state of an upload session.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusUploading  SessionStatus = "uploading"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
	StatusCancelled  SessionStatus = "cancelled"
)

// sessionTransitions is the authoritative state machine. A status maps to
// the set of statuses it may move to; completed and cancelled are terminal.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	StatusPending:    {StatusUploading, StatusCancelled},
	StatusUploading:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusUploading, StatusProcessing},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	_, ok := sessionTransitions[s]
	return ok
}

// Terminal reports whether no further transitions are allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, t := range sessionTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// UploadSession is the durable record for one tracked upload attempt.
//
// UploadedChunks counts a contiguous prefix of confirmed chunk indices
// (0..UploadedChunks-1), not an arbitrary set of received chunks. Out-of-order
// submissions stage their bytes but do not advance the counter past a gap.
type UploadSession struct {
	SessionID    string        `json:"session_id"`
	OriginalName string        `json:"original_name"`
	MimeType     string        `json:"mime_type"`
	DeclaredSize int64         `json:"declared_size"`

	TotalChunks    int `json:"total_chunks"`
	UploadedChunks int `json:"uploaded_chunks"`

	Status       SessionStatus `json:"status"`
	BlobRef      string        `json:"blob_ref,omitempty"`
	UploadedBy   string        `json:"uploaded_by,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	RetryCount   int           `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Progress returns the fraction of confirmed chunks, computed on read and
// never stored.
func (s *UploadSession) Progress() float64 {
	if s.TotalChunks <= 0 {
		return 0
	}
	return float64(s.UploadedChunks) / float64(s.TotalChunks)
}

// IsExpired reports whether the session passed its absolute deadline.
func (s *UploadSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Complete reports whether every declared chunk has been confirmed.
func (s *UploadSession) Complete() bool {
	return s.UploadedChunks == s.TotalChunks
}

// Clone returns a deep copy of the session.
func (s *UploadSession) Clone() *UploadSession {
	cp := *s
	return &cp
}

// NewSessionID generates a random 128-bit session id, lowercase-hex encoded.
func NewSessionID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// ValidSessionID reports whether id is a well-formed session identifier.
func ValidSessionID(id string) bool {
	if len(id) != SessionIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
