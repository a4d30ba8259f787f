package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ppiankov/factmark/internal/background"
	"github.com/ppiankov/factmark/internal/model"
	"github.com/ppiankov/factmark/internal/relay"
	"go.uber.org/zap"
)

// Command types pushed to page surfaces
const (
	CommandBanner   = "banner"
	CommandCloseTab = "close_tab"
	CommandSession  = "session"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	sendBuffer  = 16
	maxReadSize = 4096
)

// Command is one message pushed over the websocket
type Command struct {
	Type    string                   `json:"type"`
	Message string                   `json:"message,omitempty"`
	Session *background.SessionEvent `json:"session,omitempty"`
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan Command
	pairing bool // connected from the page opened for extension pairing
}

// Hub fans page commands and session events out to websocket clients. It
// is the relay's Page.
type Hub struct {
	upgrader websocket.Upgrader
	relay    model.RelayConfig
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a hub accepting browser connections only from origins
// allowed by origins. A client connecting with the pairing query parameter
// of cfg is the pairing page and is the only one asked to close.
func NewHub(origins *relay.OriginPolicy, cfg model.RelayConfig, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Hub{
		relay:   cfg,
		logger:  logger,
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin != "" && origins != nil && origins.Allowed(origin)
		},
	}
	return h
}

// ShowBanner pushes a banner to every page
func (h *Hub) ShowBanner(message string) {
	h.Broadcast(Command{Type: CommandBanner, Message: message})
}

// CloseTab asks the pairing page to close itself
func (h *Hub) CloseTab() {
	h.broadcast(Command{Type: CommandCloseTab}, func(c *client) bool { return c.pairing })
}

// Broadcast queues cmd for every client. Clients whose queue is full miss
// the command.
func (h *Hub) Broadcast(cmd Command) {
	h.broadcast(cmd, nil)
}

func (h *Hub) broadcast(cmd Command, match func(*client) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if match != nil && !match(c) {
			continue
		}
		select {
		case c.send <- cmd:
		default:
			h.logger.Warn("websocket client behind, command dropped",
				zap.String("client_id", c.id),
				zap.String("type", cmd.Type))
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ForwardSessions pushes session events until events closes or ctx ends
func (h *Hub) ForwardSessions(ctx context.Context, events <-chan background.SessionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(Command{Type: CommandSession, Session: &ev})
		}
	}
}

// ServeWS upgrades the request and serves the client until it disconnects
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan Command, sendBuffer),
		pairing: h.relay.PairingParam != "" && r.URL.Query().Get(h.relay.PairingParam) == h.relay.PairingValue,
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.logger.Debug("websocket client connected", zap.String("client_id", c.id), zap.Bool("pairing", c.pairing))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writePump(c)
	}()
	h.readPump(c)

	h.unregister(c)
	h.logger.Debug("websocket client disconnected", zap.String("client_id", c.id))
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// readPump discards client input and notices disconnects
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(maxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case cmd, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(cmd); err != nil {
				h.logger.Debug("websocket write failed", zap.String("client_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and waits for their writers to finish
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	h.mu.Unlock()

	h.wg.Wait()
}
