// Package cache stores analysis responses keyed by the analyzed content.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/factmark/internal/model"
)

// Cache is a byte-oriented TTL store
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

const keyPrefix = "factmark:v1:"

// Key builds a namespaced key from the hash of parts. Parts are joined with
// a separator that cannot occur in a hex digest, so ("ab","c") and ("a","bc")
// produce different keys.
func Key(namespace string, parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return keyPrefix + namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

// AnalysisKey is the key of an analysis response for content sent to the
// named analyzer
func AnalysisKey(analyzer, content string) string {
	return Key("analysis", analyzer, strings.TrimSpace(content))
}

// GetJSON decodes a cached JSON value into v
func GetJSON(c Cache, key string, v any) bool {
	data, ok := c.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// SetJSON encodes v as JSON and stores it
func SetJSON(c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.Set(key, data, ttl)
}

// New builds the cache described by cfg: nothing when disabled, memory only
// without a directory, memory over disk otherwise
func New(cfg model.CacheConfig) Cache {
	switch {
	case !cfg.Enabled:
		return Nop{}
	case cfg.Dir == "":
		return NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
	default:
		return NewLayeredCache(cfg.MemoryTTL, cfg.Dir, cfg.DiskTTL)
	}
}

// Nop is a Cache that stores nothing
type Nop struct{}

func (Nop) Get(string) ([]byte, bool)               { return nil, false }
func (Nop) Set(string, []byte, time.Duration) error { return nil }
func (Nop) Delete(string) error                     { return nil }
func (Nop) Clear() error                            { return nil }
