package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageTypeExtensionAuth is the page message type carrying login results
const MessageTypeExtensionAuth = "EXTENSION_AUTH"

// User is the user profile attached to a login; name and email are the
// fields surfaces read, everything else is passed through untouched
type User map[string]any

// Name returns the user's display name, if present
func (u User) Name() string {
	s, _ := u["name"].(string)
	return s
}

// Email returns the user's email, if present
func (u User) Email() string {
	s, _ := u["email"].(string)
	return s
}

// AuthPayload is a single login result handed from the web origin to the
// privileged context
type AuthPayload struct {
	Success      bool    `json:"success"`
	Token        string  `json:"token"`
	User         User    `json:"user"`
	ExpiresAt    *int64  `json:"expiresAt"`    // Unix milliseconds, nil when the session does not expire
	RefreshToken *string `json:"refreshToken"` // nil when the login flow issued none
}

// AuthMessage is the wire form of an AuthPayload posted by the page
type AuthMessage struct {
	Type string `json:"type"`
	AuthPayload
}

// ErrInvalidAuth is returned when an auth payload is not usable
var ErrInvalidAuth = errors.New("invalid auth payload")

// Validate checks that the payload describes a successful login
func (p AuthPayload) Validate() error {
	if !p.Success {
		return fmt.Errorf("%w: login not successful", ErrInvalidAuth)
	}
	if p.Token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidAuth)
	}
	return nil
}

// Expiry returns the expiry time, or the zero time when none was given
func (p AuthPayload) Expiry() time.Time {
	if p.ExpiresAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*p.ExpiresAt)
}

// ParseAuthMessage decodes a page message body
func ParseAuthMessage(data []byte) (AuthMessage, error) {
	var msg AuthMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return AuthMessage{}, fmt.Errorf("%w: %v", ErrInvalidAuth, err)
	}
	return msg, nil
}

// NewAuthMessage wraps a payload in its wire envelope
func NewAuthMessage(p AuthPayload) AuthMessage {
	return AuthMessage{Type: MessageTypeExtensionAuth, AuthPayload: p}
}
