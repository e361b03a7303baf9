package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashString returns the hex SHA-256 of input.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ContentKey hashes parts into a single key. Parts are separated by a NUL
// byte so ("ab", "c") and ("a", "bc") differ.
func ContentKey(parts ...string) string {
	return HashString(strings.Join(parts, "\x00"))
}
