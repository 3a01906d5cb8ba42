// Package cache fronts evidence-provider responses so repeated claims within
// a speech do not re-query external APIs.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key generates a cache key from a request URL
func Key(url string) string {
	hash := sha256.Sum256([]byte(url))
	return "sotu:v1:" + hex.EncodeToString(hash[:])
}
