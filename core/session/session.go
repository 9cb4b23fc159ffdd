// Package session establishes and validates the sessions created by magic
// link logins.
//
// Session storage is stateless JWT: the signed token is the session, and the
// JWT ID doubles as the session key recorded in the audit trail. The Strategy
// interface leaves room for revocable database-backed sessions without
// touching the login flow.
package session

import "time"

// Session is an authenticated session as seen by this service.
type Session struct {
	// ID is the session key (the JWT ID for the JWT strategy).
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	Token      string    `json:"token"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Strategy handles session creation and validation.
type Strategy interface {
	// Create mints a session for the identity with the given session key.
	Create(sessionID, identityID string) (*Session, error)

	// Validate parses and verifies a presented session token.
	Validate(token string) (*Session, error)
}
