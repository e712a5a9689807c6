package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashAPIKey hashes the raw API key. Only the hash is stored.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashMatches compares a stored hash against the hash of raw in constant time.
func HashMatches(storedHash, raw string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashAPIKey(raw))) == 1
}
