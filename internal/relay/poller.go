package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/factmark/internal/model"
	"github.com/ppiankov/factmark/internal/storage"
	"go.uber.org/zap"
)

// StartPolling starts the storage poller when the page was opened for
// pairing. It returns false when polling is not applicable or already
// running. Polling stops after the first relayed message, after the
// configured ceiling, when ctx ends or on Close.
func (b *Bridge) StartPolling(ctx context.Context) bool {
	if !b.pairing || len(b.tiers) == 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.polling {
		return false
	}

	// Subscribe before returning so writes right after the call are seen
	watches := make([]<-chan storage.Change, 0, len(b.tiers))
	unwatch := make([]func(), 0, len(b.tiers))
	for _, t := range b.tiers {
		ch, stop := t.Watch()
		watches = append(watches, ch)
		unwatch = append(unwatch, stop)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PollCeiling)
	b.polling = true
	b.cancel = cancel
	b.wg.Add(1)
	go b.poll(ctx, cancel, watches, unwatch)
	return true
}

// Polling reports whether the poller is running
func (b *Bridge) Polling() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polling
}

func (b *Bridge) poll(ctx context.Context, cancel context.CancelFunc, watches []<-chan storage.Change, unwatch []func()) {
	defer b.wg.Done()
	defer func() {
		for _, stop := range unwatch {
			stop()
		}
		b.mu.Lock()
		b.polling = false
		b.mu.Unlock()
	}()

	// Storage changes are a shortcut; the ticker still covers tiers whose
	// writers do not notify
	changes := make(chan storage.Change)
	var fanIn sync.WaitGroup
	for _, w := range watches {
		fanIn.Add(1)
		go func(w <-chan storage.Change) {
			defer fanIn.Done()
			for {
				select {
				case c, ok := <-w:
					if !ok {
						return
					}
					select {
					case changes <- c:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(w)
	}
	defer fanIn.Wait()
	defer cancel()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	b.logger.Debug("pairing poller started",
		zap.Duration("interval", b.cfg.PollInterval),
		zap.Duration("ceiling", b.cfg.PollCeiling))

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				b.logger.Info("pairing poller gave up", zap.Duration("ceiling", b.cfg.PollCeiling))
			}
			return
		case <-ticker.C:
			if b.check(ctx) {
				return
			}
		case c := <-changes:
			if c.Deleted || (c.Key != b.cfg.TokenKey && c.Key != b.cfg.UserKey) {
				continue
			}
			b.logger.Debug("credentials changed", zap.String("tier", c.Tier), zap.String("key", c.Key))
			if b.check(ctx) {
				return
			}
		}
	}
}

// check reads the tiers in order and relays the first complete, decodable
// credential pair as a page message. It returns true once a message was
// handed to HandleMessage.
func (b *Bridge) check(ctx context.Context) bool {
	for _, tier := range b.tiers {
		payload, found, err := b.readCredentials(ctx, tier)
		if err != nil {
			b.logger.Warn("stored credentials dropped", zap.String("tier", tier.Name()), zap.Error(err))
			continue
		}
		if !found {
			continue
		}

		data, err := json.Marshal(model.NewAuthMessage(payload))
		if err != nil {
			b.logger.Warn("encode synthesized message", zap.Error(err))
			return false
		}

		b.logger.Debug("credentials found", zap.String("tier", tier.Name()))
		if err := b.HandleMessage(ctx, PageMessage{Origin: b.pageOrigin, Data: data}); err != nil {
			b.logger.Warn("synthesized relay failed", zap.Error(err))
		}
		return true
	}
	return false
}

func (b *Bridge) readCredentials(ctx context.Context, tier storage.Tier) (model.AuthPayload, bool, error) {
	storedToken, ok, err := tier.Get(ctx, b.cfg.TokenKey)
	if err != nil || !ok {
		return model.AuthPayload{}, false, err
	}
	storedUser, ok, err := tier.Get(ctx, b.cfg.UserKey)
	if err != nil || !ok {
		return model.AuthPayload{}, false, err
	}

	token, err := Reveal(storedToken, b.cfg.ObfuscationKey)
	if err != nil {
		return model.AuthPayload{}, false, fmt.Errorf("token: %w", err)
	}
	userJSON, err := Reveal(storedUser, b.cfg.ObfuscationKey)
	if err != nil {
		return model.AuthPayload{}, false, fmt.Errorf("user: %w", err)
	}

	var user model.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return model.AuthPayload{}, false, fmt.Errorf("%w: user data: %v", ErrMalformed, err)
	}

	return model.AuthPayload{Success: true, Token: token, User: user}, true, nil
}
