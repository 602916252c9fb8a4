package utils

import (
	"crypto/sha256"
	"fmt"
)

// HashBytes returns the hex-encoded SHA-256 digest of raw content.
// Used as the natural key for document deduplication; collisions are
// treated as identical content.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

func HashString(input string) string {
	return HashBytes([]byte(input))
}
