// Package relay forwards login results from an unprivileged page to the
// privileged context. Three producers feed one forwarding step: page
// messages, a storage poller used while pairing and an in-page event.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/factmark/internal/background"
	"github.com/ppiankov/factmark/internal/model"
	"github.com/ppiankov/factmark/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrOriginRejected is returned for messages from origins outside the
	// allow-list
	ErrOriginRejected = errors.New("origin not allowed")
	// ErrMalformed is returned for payloads that cannot be decoded
	ErrMalformed = errors.New("malformed auth payload")
	// ErrIgnored is returned for messages and events the relay does not
	// handle
	ErrIgnored = errors.New("not an auth message")
	// ErrForward is returned when the privileged context did not
	// acknowledge a relay
	ErrForward = errors.New("relay not acknowledged")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("relay closed")
)

// Privileged is the privileged context the bridge forwards to
type Privileged interface {
	Send(ctx context.Context, req background.Request) (background.Response, error)
}

// Page is the page surface the bridge reports back to
type Page interface {
	ShowBanner(message string)
	CloseTab()
}

// PageMessage is a message posted to the page
type PageMessage struct {
	Origin string
	Data   []byte
}

// Options configures a Bridge
type Options struct {
	Config model.RelayConfig

	// PageURL is the address of the page hosting the bridge. Its query
	// decides pairing mode and its origin is used for synthesized messages.
	PageURL string

	Privileged Privileged
	Page       Page

	// Tiers are read by the poller in order
	Tiers []storage.Tier

	Logger *zap.Logger
}

// Bridge relays auth payloads from the page to the privileged context
type Bridge struct {
	cfg        model.RelayConfig
	origins    *OriginPolicy
	privileged Privileged
	page       Page
	tiers      []storage.Tier
	logger     *zap.Logger

	pageOrigin string
	pairing    bool

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	polling bool
	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewBridge creates a bridge
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Privileged == nil {
		return nil, errors.New("relay: privileged context required")
	}

	cfg := opts.Config
	defaults := model.DefaultConfig().Relay
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaults.AllowedOrigins
	}
	if cfg.CustomEvent == "" {
		cfg.CustomEvent = defaults.CustomEvent
	}
	if cfg.PairingParam == "" {
		cfg.PairingParam = defaults.PairingParam
		cfg.PairingValue = defaults.PairingValue
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.PollCeiling <= 0 {
		cfg.PollCeiling = defaults.PollCeiling
	}
	if cfg.CloseDelay <= 0 {
		cfg.CloseDelay = defaults.CloseDelay
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaults.AckTimeout
	}
	if cfg.TokenKey == "" {
		cfg.TokenKey = defaults.TokenKey
	}
	if cfg.UserKey == "" {
		cfg.UserKey = defaults.UserKey
	}
	if cfg.ObfuscationKey == "" {
		cfg.ObfuscationKey = defaults.ObfuscationKey
	}

	origins, err := NewOriginPolicy(cfg.AllowedOrigins, cfg.OriginMatch)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bridge{
		cfg:        cfg,
		origins:    origins,
		privileged: opts.Privileged,
		page:       opts.Page,
		logger:     logger,
		pageOrigin: OriginOf(opts.PageURL),
		pairing:    isPairing(opts.PageURL, cfg.PairingParam, cfg.PairingValue),
		timers:     make(map[*time.Timer]struct{}),
	}
	for _, t := range opts.Tiers {
		if t != nil {
			b.tiers = append(b.tiers, t)
		}
	}
	return b, nil
}

func isPairing(pageURL, param, value string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return u.Query().Get(param) == value
}

// Pairing reports whether the page was opened to pair the extension
func (b *Bridge) Pairing() bool {
	return b.pairing
}

// HandleMessage is the page message path. Messages from origins outside
// the allow-list are dropped without reaching the privileged context.
func (b *Bridge) HandleMessage(ctx context.Context, msg PageMessage) error {
	if !b.origins.Allowed(msg.Origin) {
		b.logger.Debug("relay message dropped", zap.String("origin", msg.Origin))
		return fmt.Errorf("%w: %q", ErrOriginRejected, msg.Origin)
	}

	auth, err := model.ParseAuthMessage(msg.Data)
	if err != nil {
		b.logger.Warn("relay message undecodable", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if auth.Type != model.MessageTypeExtensionAuth {
		return fmt.Errorf("%w: type %q", ErrIgnored, auth.Type)
	}

	return b.forward(ctx, "message", auth.AuthPayload)
}

// HandleCustomEvent is the in-page event path. payload has the same shape
// as a page message, with or without the type field.
func (b *Bridge) HandleCustomEvent(ctx context.Context, name string, payload []byte) error {
	if name != b.cfg.CustomEvent {
		return fmt.Errorf("%w: event %q", ErrIgnored, name)
	}

	auth, err := model.ParseAuthMessage(payload)
	if err != nil {
		b.logger.Warn("relay event undecodable", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if auth.Type != "" && auth.Type != model.MessageTypeExtensionAuth {
		return fmt.Errorf("%w: type %q", ErrIgnored, auth.Type)
	}

	return b.forward(ctx, "event", auth.AuthPayload)
}

// forward hands p to the privileged context and, once acknowledged, tells
// the page. Failures are logged and not retried.
func (b *Bridge) forward(ctx context.Context, path string, p model.AuthPayload) error {
	if b.isClosed() {
		return ErrClosed
	}

	id := uuid.NewString()
	log := b.logger.With(zap.String("relay_id", id), zap.String("path", path))

	if err := p.Validate(); err != nil {
		log.Warn("relay payload dropped", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, b.cfg.AckTimeout)
	defer cancel()

	resp, err := b.privileged.Send(ackCtx, background.AuthSuccess{RelayID: id, Payload: p})
	if err != nil {
		log.Warn("relay forward failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrForward, err)
	}
	if !resp.OK {
		log.Warn("relay rejected", zap.String("error", resp.Error))
		return fmt.Errorf("%w: %s", ErrForward, resp.Error)
	}

	log.Info("auth relayed", zap.Bool("duplicate", resp.Duplicate))
	if b.page != nil {
		b.page.ShowBanner("Signed in to the extension")
		if b.pairing {
			b.schedule(b.cfg.CloseDelay, b.page.CloseTab)
		}
	}
	return nil
}

// schedule runs fn after d unless the bridge is closed first
func (b *Bridge) schedule(d time.Duration, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		b.mu.Lock()
		_, live := b.timers[t]
		delete(b.timers, t)
		b.mu.Unlock()
		if live {
			fn()
		}
	})
	b.timers[t] = struct{}{}
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close stops polling and cancels scheduled tab closes
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for t := range b.timers {
		t.Stop()
		delete(b.timers, t)
	}
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

// StoreCredentials writes a login to tier in the obfuscated form the
// poller reads
func StoreCredentials(ctx context.Context, tier storage.Tier, cfg model.RelayConfig, token string, user model.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	// User first: the token write is what the poller waits for
	if err := tier.Set(ctx, cfg.UserKey, Obfuscate(string(userJSON), cfg.ObfuscationKey)); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	if err := tier.Set(ctx, cfg.TokenKey, Obfuscate(token, cfg.ObfuscationKey)); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}
