// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRangeHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		size   int64
		offset int64
		length int64
		ok     bool
	}{
		{"full explicit", "bytes=0-99", 100, 0, 100, true},
		{"middle", "bytes=10-19", 100, 10, 10, true},
		{"single byte", "bytes=5-5", 100, 5, 1, true},
		{"open ended", "bytes=40-", 100, 40, 60, true},
		{"suffix", "bytes=-25", 100, 75, 25, true},
		{"suffix larger than object", "bytes=-500", 100, 0, 100, true},
		{"end clamped", "bytes=90-200", 100, 90, 10, true},
		{"start past end of object", "bytes=100-", 100, 0, 0, false},
		{"inverted", "bytes=30-20", 100, 0, 0, false},
		{"missing prefix", "0-10", 100, 0, 0, false},
		{"garbage", "bytes=a-b", 100, 0, 0, false},
		{"multi range", "bytes=0-1,5-6", 100, 0, 0, false},
		{"empty spec", "bytes=-", 100, 0, 0, false},
		{"empty object", "bytes=0-1", 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, length, ok := parseRangeHeader(tt.header, tt.size)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.offset, offset)
				assert.Equal(t, tt.length, length)
			}
		})
	}
}
