// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"path/filepath"
	"strings"
)

// MaxFilenameLength bounds sanitized display names.
const MaxFilenameLength = 255

// SanitizeFilename reduces a client-supplied file name to a safe display
// name: path separators stripped, characters outside a conservative set
// replaced with '_', length capped at MaxFilenameLength. Returns "" if
// nothing safe remains.
func SanitizeFilename(name string) string {
	// Drop any directory components, both unix and windows style.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_' || r == ' ' || r == '(' || r == ')':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.TrimSpace(b.String())
	// A name of only dots or underscores carries no information.
	if strings.Trim(out, "._") == "" {
		return ""
	}
	if len(out) > MaxFilenameLength {
		out = out[:MaxFilenameLength]
	}
	return out
}
