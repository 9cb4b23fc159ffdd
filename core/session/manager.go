package session

import "github.com/google/uuid"

// Manager handles session lifecycle operations. It delegates to a configured
// Strategy for the actual session minting and validation.
type Manager struct {
	strategy Strategy
}

// NewManager creates a new session Manager with the given strategy.
func NewManager(strategy Strategy) *Manager {
	return &Manager{strategy: strategy}
}

// Establish authenticates the given identity and returns the new session.
// A fresh random session key is generated per login.
func (m *Manager) Establish(identityID string) (*Session, error) {
	return m.strategy.Create(uuid.New().String(), identityID)
}

// Validate resolves a presented session token to a session, or an error if
// the token is missing, malformed, or expired.
func (m *Manager) Validate(token string) (*Session, error) {
	return m.strategy.Validate(token)
}
