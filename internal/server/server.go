// Package server exposes the relay bridge and the privileged context over
// HTTP for page surfaces.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ppiankov/factmark/internal/background"
	"github.com/ppiankov/factmark/internal/model"
	"github.com/ppiankov/factmark/internal/relay"
	"github.com/ppiankov/factmark/internal/worker"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Sessions is the privileged context as seen by the server
type Sessions interface {
	relay.Privileged
	Subscribe() (<-chan background.SessionEvent, func())
}

// Server routes page requests to the bridge and the privileged context
type Server struct {
	cfg      model.ServerConfig
	bridge   *relay.Bridge
	sessions Sessions
	hub      *Hub
	origins  *relay.OriginPolicy
	analyze  *worker.Limiter // per client
	logger   *zap.Logger
	router   chi.Router
}

// New builds the router. hub must be the Page the bridge was created with.
func New(cfg model.ServerConfig, bridge *relay.Bridge, sessions Sessions, hub *Hub, origins *relay.OriginPolicy, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:      cfg,
		bridge:   bridge,
		sessions: sessions,
		hub:      hub,
		origins:  origins,
		analyze:  worker.NewLimiter(cfg.AnalyzeRate, cfg.AnalyzeBurst),
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/relay", func(r chi.Router) {
		r.Post("/message", s.handleRelayMessage)
		r.Post("/event", s.handleRelayEvent)
	})
	r.Get("/session", s.handleSession)
	r.Post("/session/logout", s.handleLogout)
	r.Post("/analyze", s.handleAnalyze)
	r.Get("/ws", hub.ServeWS)

	s.router = r
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Addr until ctx ends, then shuts down gracefully.
// Session events are pushed to websocket clients while running.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readTimeout,
	}

	events, unsubscribe := s.sessions.Subscribe()
	forwardCtx, stopForward := context.WithCancel(ctx)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		s.hub.ForwardSessions(forwardCtx, events)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("server shutdown", zap.Error(err))
	}

	stopForward()
	unsubscribe()
	<-forwarded

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.hub.Clients()})
}

func (s *Server) handleRelayMessage(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = s.bridge.HandleMessage(r.Context(), relay.PageMessage{Origin: r.Header.Get("Origin"), Data: body})
	s.writeRelayResult(w, err)
}

type eventRequest struct {
	Name   string          `json:"name"`
	Detail json.RawMessage `json:"detail"`
}

func (s *Server) handleRelayEvent(w http.ResponseWriter, r *http.Request) {
	// In-page events carry no origin of their own; browsers still send one
	if origin := r.Header.Get("Origin"); origin != "" && !s.origins.Allowed(origin) {
		writeError(w, http.StatusForbidden, relay.ErrOriginRejected)
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var ev eventRequest
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid event: %w", err))
		return
	}

	err = s.bridge.HandleCustomEvent(r.Context(), ev.Name, ev.Detail)
	s.writeRelayResult(w, err)
}

func (s *Server) writeRelayResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, background.Response{OK: true})
	case errors.Is(err, relay.ErrOriginRejected):
		writeError(w, http.StatusForbidden, relay.ErrOriginRejected)
	case errors.Is(err, relay.ErrMalformed), errors.Is(err, relay.ErrIgnored):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, relay.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.sessions.Send(r.Context(), background.AuthStatus{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	resp, err := s.sessions.Send(r.Context(), background.Logout{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type analyzeRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !s.analyze.Allow(clientURL(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many analysis requests"))
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req analyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	resp, err := s.sessions.Send(r.Context(), background.Analyze{Content: req.Content})
	switch {
	case errors.Is(err, background.ErrNoAnalyzer):
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case errors.Is(err, background.ErrEmptyContent):
		writeJSON(w, http.StatusBadRequest, resp)
	case err != nil:
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// clientURL names the caller as a URL so the per-host limiter keys on its
// address
func clientURL(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "http://" + net.JoinHostPort(host, "0")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, background.Response{Error: err.Error()})
}
