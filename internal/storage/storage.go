// Package storage provides the key-value tiers the auth relay reads
// credentials from: a persistent local tier and an expiring session tier.
package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed tier
var ErrClosed = errors.New("storage closed")

// Tier names
const (
	TierLocal   = "local"
	TierSession = "session"
)

// Change describes a write or removal of one key
type Change struct {
	Tier    string
	Key     string
	Value   string
	Deleted bool
}

// Tier is a string key-value store that reports changes
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	// Watch returns a channel receiving every change made after the call
	// and a function that ends the subscription and closes the channel.
	// Slow receivers miss changes rather than block writers. The channel is
	// also closed when the tier is closed.
	Watch() (<-chan Change, func())

	Close() error
}

// broadcaster fans changes out to watchers
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Change
	nextID int
	closed bool
}

func (b *broadcaster) subscribe() (<-chan Change, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Change, 16)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.subs == nil {
		b.subs = make(map[int]chan Change)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) watchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *broadcaster) publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
