package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is the server-side record behind an opaque session token. It
// lives only in Redis; nothing about it is persisted relationally.
type Session struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	RememberMe bool      `json:"remember_me"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
}

// New mints a session with a fresh unguessable id expiring after ttl.
func New(userID string, ttl time.Duration, rememberMe bool) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Session{
		SessionID:  id.String(),
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		RememberMe: rememberMe,
	}, nil
}

// WithClientInfo attaches the observed user agent and address.
func (s *Session) WithClientInfo(userAgent, ipAddress string) *Session {
	s.UserAgent = userAgent
	s.IPAddress = ipAddress
	return s
}
