// Package auth extracts the authenticated owner identity from a
// session access token.
//
// The token is a JWT issued by the auth provider. The signature is
// enforced server-side by row-level access control; the engine only
// needs the claims, so the token is parsed without verification, the
// same way browser clients of the same API read their own session.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Session identifies the authenticated owner on this device.
type Session struct {
	// OwnerID is the subject claim; every remote row the engine reads
	// or writes is filtered by it.
	OwnerID string

	// ExpiresAt is when the access token lapses. The zero value means
	// the token carries no expiry.
	ExpiresAt time.Time
}

// ParseToken reads the owner identity out of an access token.
// Returns an error for malformed tokens, tokens without a subject, and
// expired tokens.
func ParseToken(token string) (*Session, error) {
	claims := &jwt.RegisteredClaims{}

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("malformed access token: %w", err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("access token has no subject")
	}

	session := &Session{OwnerID: claims.Subject}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
		if time.Now().After(session.ExpiresAt) {
			return nil, fmt.Errorf("access token expired at %s", session.ExpiresAt.Format(time.RFC3339))
		}
	}

	return session, nil
}

// Expired reports whether the session's token has lapsed.
func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}
