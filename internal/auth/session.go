package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Credentials is the session context handed to every backend call.
type Credentials interface {
	Token() string
	Valid() bool
}

// Session carries a user's bearer token. Its validity is judged from the
// token's exp claim; the signature is the backend's concern.
type Session struct {
	token string
	now   func() time.Time
}

// NewSession wraps a raw bearer token.
func NewSession(token string) *Session {
	return &Session{token: strings.TrimSpace(token), now: time.Now}
}

// FromAuthorizationHeader builds a Session from an "Authorization: Bearer"
// header value. A missing or malformed header yields an invalid Session.
func FromAuthorizationHeader(header string) *Session {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return NewSession("")
	}
	return NewSession(header[len(prefix):])
}

func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	return s.token
}

// Valid reports whether the token is present, decodes as a JWT and has not
// expired. Tokens without an exp claim are treated as invalid.
func (s *Session) Valid() bool {
	if s == nil || s.token == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return claims.ExpiresAt.Time.After(now())
}
