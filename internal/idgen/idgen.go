// Package idgen provides random ID generation.
package idgen

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// New generates a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a random ID with a prefix (e.g. "wal_").
// Result is prefix + the 32 hex chars of a v4 UUID.
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Hex generates a random hex string of the given byte length, at most 16.
func Hex(numBytes int) string {
	id := uuid.New()
	if numBytes > len(id) {
		numBytes = len(id)
	}
	return hex.EncodeToString(id[:numBytes])
}
