// Package domain defines the storage contracts for the magiclink service.
//
// It abstracts persistence of links, use records, and identity lookups,
// allowing any backend. The kgorm package provides the GORM implementation.
//
// # Interfaces
//
//   - Storage: composite interface combining all storage operations
//   - LinkStorage: magic link persistence, keyed externally by token
//   - IdentityStorage: read-only access to the external identity directory
//   - Transactor: the atomic unit of work around a single link's
//     read-modify-write
package domain

import (
	"context"

	"github.com/getkayan/magiclink/core/audit"
	"github.com/getkayan/magiclink/core/identity"
	"github.com/getkayan/magiclink/core/link"
)

// Storage defines the interface for all persistence operations.
type Storage interface {
	LinkStorage
	IdentityStorage
	audit.Store
	Transactor
}

type LinkStorage interface {
	CreateLink(ctx context.Context, l *link.MagicLink) error

	// GetLinkByToken resolves the opaque token to a link. Returns
	// link.ErrLinkNotFound when the token resolves to nothing.
	GetLinkByToken(ctx context.Context, token string) (*link.MagicLink, error)

	// SaveLink persists the mutable fields of an existing link
	// (Active, AccessedAt, LoggedInAt).
	SaveLink(ctx context.Context, l *link.MagicLink) error
}

type IdentityStorage interface {
	GetIdentity(ctx context.Context, id string) (*identity.Identity, error)
}

// Transactor scopes a function to one serializable unit of work. Link reads
// inside the unit take a row-level lock, so two racing consume attempts on
// the same token serialize: the loser re-reads post-commit state. If fn
// returns an error none of its writes are observable.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx Storage) error) error
}
