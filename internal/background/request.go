// Package background is the privileged context: it owns the signed-in
// session and answers requests relayed from page surfaces.
package background

import (
	"errors"
	"time"

	"github.com/ppiankov/factmark/internal/model"
)

// ErrUnknownRequest is returned by Send for request types it does not handle
var ErrUnknownRequest = errors.New("unknown request")

// Request is one message to the privileged context. The set of request
// types is closed; Send switches over all of them.
type Request interface {
	request()
}

// AuthSuccess hands a completed login to the privileged context
type AuthSuccess struct {
	RelayID string
	Payload model.AuthPayload
}

// AuthStatus asks for the current session
type AuthStatus struct{}

// Logout drops the current session
type Logout struct{}

// Analyze runs content through the configured analysis service
type Analyze struct {
	Content string
}

func (AuthSuccess) request() {}
func (AuthStatus) request()  {}
func (Logout) request()      {}
func (Analyze) request()     {}

// Response is the acknowledgement for a Request
type Response struct {
	OK        bool                    `json:"success"`
	Error     string                  `json:"error,omitempty"`
	Duplicate bool                    `json:"duplicate,omitempty"`
	Session   *Session                `json:"session,omitempty"`
	Analysis  *model.AnalysisResponse `json:"analysis,omitempty"`
}

// Session is the signed-in state held by the privileged context
type Session struct {
	Token        string     `json:"-"`
	User         model.User `json:"user"`
	ExpiresAt    time.Time  `json:"expiresAt,omitzero"`
	RefreshToken string     `json:"-"`
	ReceivedAt   time.Time  `json:"receivedAt"`
}

// EventKind classifies session changes
type EventKind string

const (
	EventLogin   EventKind = "login"
	EventLogout  EventKind = "logout"
	EventExpired EventKind = "expired"
)

// SessionEvent is published to subscribers when the session changes
type SessionEvent struct {
	Kind    EventKind `json:"kind"`
	Session *Session  `json:"session,omitempty"`
	At      time.Time `json:"at"`
}
