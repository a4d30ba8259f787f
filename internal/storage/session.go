package storage

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// SessionTier is an in-memory tier whose entries expire after a TTL, the
// way browser session storage disappears with the session
type SessionTier struct {
	cache  *gocache.Cache
	events broadcaster
	closed atomic.Bool
}

// NewSessionTier creates a session tier. A non-positive ttl never expires.
func NewSessionTier(ttl time.Duration) *SessionTier {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}

	t := &SessionTier{cache: gocache.New(ttl, time.Minute)}
	t.cache.OnEvicted(func(key string, _ any) {
		t.events.publish(Change{Tier: TierSession, Key: key, Deleted: true})
	})
	return t
}

// Name returns "session"
func (t *SessionTier) Name() string { return TierSession }

// Get returns the value of key
func (t *SessionTier) Get(_ context.Context, key string) (string, bool, error) {
	if t.closed.Load() {
		return "", false, ErrClosed
	}
	v, ok := t.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

// Set stores value with the tier's TTL
func (t *SessionTier) Set(_ context.Context, key, value string) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.cache.SetDefault(key, value)
	t.events.publish(Change{Tier: TierSession, Key: key, Value: value})
	return nil
}

// Delete removes key. Watchers see the removal only if the key existed.
func (t *SessionTier) Delete(_ context.Context, key string) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.cache.Delete(key)
	return nil
}

// Watch subscribes to changes
func (t *SessionTier) Watch() (<-chan Change, func()) {
	return t.events.subscribe()
}

// Close drops all entries and closes watch channels
func (t *SessionTier) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.cache.Flush()
	t.events.close()
	return nil
}
