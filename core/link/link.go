// Package link defines the magic link entity and its validity state machine.
//
// A MagicLink is a single-use, time-limited login token. At any instant it is
// in exactly one of four states, all derived from stored fields rather than
// stored redundantly:
//
//   - Valid: active, unexpired, unused; the only state login can occur from
//   - Inactive: Active flag cleared (kill switch or post-login)
//   - Expired: past ExpiresAt; purely a clock comparison, no state write
//   - Used: LoggedInAt set
//
// Transitions are one-way. Once a link leaves Valid it never returns.
package link

import (
	"time"

	"github.com/getkayan/magiclink/core/identity"
	"github.com/google/uuid"
)

// MagicLink is one issued login token.
//
// ID, IdentityID, Token, RedirectTo, CreatedAt and ExpiresAt are immutable
// after creation. AccessedAt and LoggedInAt are each written exactly once.
// Active only ever moves from true to false.
type MagicLink struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`

	// Token is the sole external lookup key: a cryptographically random
	// UUID, globally unique and unguessable.
	Token string `json:"token"`

	// RedirectTo is where the user is sent after a successful login.
	RedirectTo string `json:"redirect_to"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// AccessedAt records the first use attempt of any kind, successful or
	// not. Never overwritten once set.
	AccessedAt *time.Time `json:"accessed_at,omitempty"`

	// LoggedInAt records the successful login, if any.
	LoggedInAt *time.Time `json:"logged_in_at,omitempty"`

	// Active defaults to true and is only ever set to false, either by an
	// explicit Disable (kill switch) or automatically upon login.
	Active bool `json:"active"`
}

// DefaultRedirect is used when issuance does not specify a target.
const DefaultRedirect = "/"

// New issues a link for the given identity. The token is a fresh random UUID.
func New(identityID, redirectTo string, ttl time.Duration, now time.Time) *MagicLink {
	if redirectTo == "" {
		redirectTo = DefaultRedirect
	}
	return &MagicLink{
		ID:         uuid.New().String(),
		IdentityID: identityID,
		Token:      uuid.New().String(),
		RedirectTo: redirectTo,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Active:     true,
	}
}

// HasExpired reports whether the link is past its expiry timestamp. A link
// expires the instant now reaches ExpiresAt.
func (l *MagicLink) HasExpired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !l.ExpiresAt.After(now)
}

// HasBeenUsed reports whether the link has completed a login already.
func (l *MagicLink) HasBeenUsed() bool {
	return l.LoggedInAt != nil
}

// IsValid reports whether the link can be used to log in.
func (l *MagicLink) IsValid(now time.Time) bool {
	return l.Active && !l.HasExpired(now) && !l.HasBeenUsed()
}

// Validate checks the link and returns the first violated condition, in
// priority order: inactive, then expired, then used. Inactivity is an
// administrative kill and deliberately takes precedence over expiry, which
// takes precedence over prior use.
func (l *MagicLink) Validate(now time.Time) error {
	if !l.Active {
		return ErrInactiveLink
	}
	if l.HasExpired(now) {
		return ErrExpiredLink
	}
	if l.HasBeenUsed() {
		return ErrUsedLink
	}
	// Theoretically unreachable, but keeps IsValid and Validate in sync.
	if !l.IsValid(now) {
		return ErrInvalidLink
	}
	return nil
}

// Authorize checks that the requester may use this link. An anonymous
// requester (nil) or one already authenticated as the link's owner is
// authorized; anyone else is rejected so a captured link cannot silently
// switch an active session to another account.
func (l *MagicLink) Authorize(requester *identity.Identity) error {
	if requester != nil && requester.ID != l.IdentityID {
		return ErrPermissionDenied
	}
	return nil
}

// MarkLoggedIn records the successful login. Write-once: later calls are
// ignored so the login timestamp can never drift.
func (l *MagicLink) MarkLoggedIn(now time.Time) {
	if l.LoggedInAt == nil {
		t := now
		l.LoggedInAt = &t
	}
}

// Disable clears the Active flag regardless of expiry. Idempotent. Used both
// as an administrative kill switch and to consume the link after login; no
// operation ever sets the flag back.
func (l *MagicLink) Disable() {
	l.Active = false
}

// MarkAccessed records the first access timestamp. Later calls are ignored.
func (l *MagicLink) MarkAccessed(t time.Time) {
	if l.AccessedAt == nil {
		ts := t
		l.AccessedAt = &ts
	}
}
