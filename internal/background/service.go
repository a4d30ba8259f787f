package background

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/ppiankov/factmark/internal/analysis"
	"go.uber.org/zap"
)

const sessionKey = "session"

// ErrNoAnalyzer is returned for Analyze requests when no analysis service
// is configured
var ErrNoAnalyzer = errors.New("analysis not configured")

// ErrEmptyContent is returned for Analyze requests without content
var ErrEmptyContent = errors.New("empty content")

// Service handles requests for the privileged context
type Service struct {
	store    *cache.Cache
	analyzer analysis.Analyzer
	logger   *zap.Logger
	now      func() time.Time

	// sessionMu serializes login and logout so the duplicate check and
	// the store write are one step
	sessionMu sync.Mutex

	mu     sync.Mutex
	subs   map[int]chan SessionEvent
	nextID int
	closed bool
}

// NewService creates a service. Sessions without an expiry live for
// defaultTTL; zero or negative keeps them until logout. analyzer may be nil.
func NewService(analyzer analysis.Analyzer, defaultTTL time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL <= 0 {
		defaultTTL = cache.NoExpiration
	}

	s := &Service{
		store:    cache.New(defaultTTL, time.Minute),
		analyzer: analyzer,
		logger:   logger,
		now:      time.Now,
		subs:     make(map[int]chan SessionEvent),
	}

	// Only the janitor evicts: logout flushes and replacement overwrites,
	// neither of which fires the callback.
	s.store.OnEvicted(func(_ string, v any) {
		sess, _ := v.(*Session)
		s.logger.Info("session expired")
		s.publish(SessionEvent{Kind: EventExpired, Session: sess, At: s.now()})
	})
	return s
}

// Send dispatches req and returns its acknowledgement. Request failures
// are reported both in the response and as an error.
func (s *Service) Send(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{Error: err.Error()}, err
	}

	switch r := req.(type) {
	case AuthSuccess:
		return s.authSuccess(r)
	case AuthStatus:
		return s.authStatus(), nil
	case Logout:
		return s.logout(), nil
	case Analyze:
		return s.analyze(ctx, r)
	default:
		err := fmt.Errorf("%w: %T", ErrUnknownRequest, req)
		return Response{Error: err.Error()}, err
	}
}

func (s *Service) authSuccess(r AuthSuccess) (Response, error) {
	p := r.Payload
	if err := p.Validate(); err != nil {
		return Response{Error: err.Error()}, err
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	now := s.now()
	ttl := cache.DefaultExpiration
	if expiry := p.Expiry(); !expiry.IsZero() {
		ttl = expiry.Sub(now)
		if ttl <= 0 {
			err := fmt.Errorf("session already expired at %s", expiry.Format(time.RFC3339))
			return Response{Error: err.Error()}, err
		}
	}

	if cur := s.current(); cur != nil && cur.Token == p.Token {
		s.logger.Debug("duplicate auth relay ignored", zap.String("relay_id", r.RelayID))
		return Response{OK: true, Duplicate: true, Session: cur}, nil
	}

	sess := &Session{
		Token:      p.Token,
		User:       p.User,
		ExpiresAt:  p.Expiry(),
		ReceivedAt: now,
	}
	if p.RefreshToken != nil {
		sess.RefreshToken = *p.RefreshToken
	}
	s.store.Set(sessionKey, sess, ttl)

	s.logger.Info("session established",
		zap.String("relay_id", r.RelayID),
		zap.String("user", sess.User.Email()))
	s.publish(SessionEvent{Kind: EventLogin, Session: sess, At: now})
	return Response{OK: true, Session: sess}, nil
}

func (s *Service) authStatus() Response {
	return Response{OK: true, Session: s.current()}
}

func (s *Service) logout() Response {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	cur := s.current()
	if cur == nil {
		return Response{OK: true}
	}
	s.store.Flush()
	s.logger.Info("session cleared")
	s.publish(SessionEvent{Kind: EventLogout, At: s.now()})
	return Response{OK: true}
}

func (s *Service) analyze(ctx context.Context, r Analyze) (Response, error) {
	if s.analyzer == nil {
		return Response{Error: ErrNoAnalyzer.Error()}, ErrNoAnalyzer
	}
	if strings.TrimSpace(r.Content) == "" {
		return Response{Error: ErrEmptyContent.Error()}, ErrEmptyContent
	}

	resp, err := s.analyzer.Analyze(ctx, r.Content)
	if err != nil {
		err = fmt.Errorf("analyze: %w", err)
		return Response{Error: err.Error()}, err
	}
	if resp.Error != "" {
		return Response{Error: resp.Error, Analysis: resp}, nil
	}
	return Response{OK: true, Analysis: resp}, nil
}

// Current returns the signed-in session, or nil
func (s *Service) Current() *Session {
	return s.current()
}

func (s *Service) current() *Session {
	v, ok := s.store.Get(sessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*Session)
	return sess
}

// Subscribe returns a channel of session events and a function that
// unsubscribes. Events are dropped for subscribers that fall behind.
func (s *Service) Subscribe() (<-chan SessionEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan SessionEvent, 8)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

func (s *Service) publish(ev SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("session subscriber behind, event dropped", zap.String("kind", string(ev.Kind)))
		}
	}
}

// Close ends all subscriptions
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
