package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds configuration for the JWT session strategy.
type JWTConfig struct {
	SigningMethod jwt.SigningMethod
	SigningKey    any
	VerifyingKey  any
	Expiry        time.Duration
}

// JWTStrategy implements Strategy with signed, stateless tokens.
type JWTStrategy struct {
	config JWTConfig
}

// NewJWTStrategy creates a JWT strategy from an explicit config.
func NewJWTStrategy(cfg JWTConfig) *JWTStrategy {
	return &JWTStrategy{config: cfg}
}

// NewHS256Strategy creates a symmetric-key JWT strategy. The expiry is the
// magic-link session override, not the link's own lifetime.
func NewHS256Strategy(secret string, expiry time.Duration) *JWTStrategy {
	return NewJWTStrategy(JWTConfig{
		SigningMethod: jwt.SigningMethodHS256,
		SigningKey:    []byte(secret),
		VerifyingKey:  []byte(secret),
		Expiry:        expiry,
	})
}

func (s *JWTStrategy) Create(sessionID, identityID string) (*Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.Expiry)

	claims := jwt.RegisteredClaims{
		ID:        sessionID,
		Subject:   identityID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(s.config.SigningMethod, claims)
	signed, err := token.SignedString(s.config.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("session: signing failed: %w", err)
	}

	return &Session{
		ID:         sessionID,
		IdentityID: identityID,
		Token:      signed,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
	}, nil
}

func (s *JWTStrategy) Validate(tokenString string) (*Session, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != s.config.SigningMethod.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.config.VerifyingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("session: invalid token")
	}

	sess := &Session{
		ID:         claims.ID,
		IdentityID: claims.Subject,
		Token:      tokenString,
	}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return sess, nil
}
