// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"strconv"
	"strings"
)

// parseRangeHeader parses a single HTTP byte range ("bytes=start-end",
// "bytes=start-" or "bytes=-suffix") against an object of the given size.
// Multi-range requests are not supported.
func parseRangeHeader(header string, objectSize int64) (offset, length int64, ok bool) {
	if objectSize <= 0 {
		return 0, 0, false
	}

	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return 0, 0, false
	}
	parts := strings.Split(spec, "-")
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		// Suffix range: the final N bytes.
		suffix, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, false
		}
		if suffix >= objectSize {
			return 0, objectSize, true
		}
		return objectSize - suffix, suffix, true
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start >= objectSize {
		return 0, 0, false
	}

	if parts[1] == "" {
		// Open-ended range: from start to the end.
		return start, objectSize - start, true
	}

	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if end >= objectSize {
		end = objectSize - 1
	}
	return start, end - start + 1, true
}
