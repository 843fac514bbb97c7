// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"spaces", "my report.pdf", "my report.pdf"},
		{"strips path", "/etc/passwd", "passwd"},
		{"strips traversal", "../../secret.txt", "secret.txt"},
		{"windows separators", `..\..\boot.ini`, "boot.ini"},
		{"control chars replaced", "a\x00b\nc.txt", "a_b_c.txt"},
		{"non-ascii replaced", "résumé.pdf", "r_sum_.pdf"},
		{"empty", "", ""},
		{"only separators", "///", ""},
		{"only dots", "..", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilenameLength(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 300) + ".txt"
	got := SanitizeFilename(long)
	assert.LessOrEqual(t, len(got), 255)
	assert.NotEmpty(t, got)
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := Jitter(base, 0.2)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
	assert.Equal(t, base, Jitter(base, 0))
}

func TestBufferPoolRoundTrip(t *testing.T) {
	t.Parallel()

	buf := GetBuffer(64 << 10)
	assert.Len(t, buf, 64<<10)
	PutBuffer(buf)

	// Oversized requests fall back to direct allocation.
	big := GetBuffer(8 << 20)
	assert.Len(t, big, 8<<20)
	PutBuffer(big)
}
