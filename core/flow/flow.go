// Package flow orchestrates magic link use: issuance, the read-style render
// check, and the consume transition that establishes a session.
//
// The control flow for both HTTP verbs is fixed: look up the link by token
// (a miss precedes auditing), validate, authorize, then either record the
// rejection or complete the use. The consume path runs login, disable, and
// the audit write as one atomic unit of work so that two racing consume
// attempts on the same token can never both log in.
package flow

import (
	"context"
	"errors"

	"github.com/getkayan/magiclink/core/audit"
	"github.com/getkayan/magiclink/core/identity"
	"github.com/getkayan/magiclink/core/link"
	"github.com/getkayan/magiclink/core/session"
)

// Issuance rejections. Like the link taxonomy these are expected outcomes.
var (
	ErrUnknownIdentity  = errors.New("identity not found")
	ErrInactiveIdentity = errors.New("identity is not active")
)

// Login is the result of a successful consume.
type Login struct {
	Link       *link.MagicLink
	Session    *session.Session
	RedirectTo string
}

// Authenticator is the external session-establishment collaborator.
type Authenticator interface {
	Establish(identityID string) (*session.Session, error)
}

// LinkFlow is the per-request contract the HTTP boundary drives. Peek covers
// read-style requests, Consume state-changing ones. Both return the link
// (when it resolved) alongside any rejection so the boundary can render it.
type LinkFlow interface {
	Peek(ctx context.Context, token string, requester *identity.Identity, meta audit.RequestMeta) (*link.MagicLink, error)
	Consume(ctx context.Context, token string, requester *identity.Identity, meta audit.RequestMeta) (*Login, error)
}
