// Package utils provides small shared helpers for the gateway: hex digest
// computation and UTC timestamp formatting. Both are part of the wire
// protocol shared with device firmware, so their output format is fixed.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Sha256Hex returns the lowercase hex encoding of the SHA-256 digest of s.
func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NowUTCISO8601 returns the current time as an RFC 3339 UTC string with
// second precision, e.g. "2023-11-14T22:30:00Z".
func NowUTCISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}
