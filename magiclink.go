package magiclink

import (
	"time"

	"github.com/getkayan/magiclink/core/audit"
	"github.com/getkayan/magiclink/core/flow"
	"github.com/getkayan/magiclink/core/link"
	"github.com/getkayan/magiclink/core/session"
	"github.com/getkayan/magiclink/kgorm"
	"gorm.io/gorm"
)

// Default types for convenience
type Link = link.MagicLink
type Use = audit.Use

// NewDefaultSessionManager creates a session Manager with HS256 stateless
// sessions.
func NewDefaultSessionManager(secret string, expiry time.Duration) *session.Manager {
	return session.NewManager(session.NewHS256Strategy(secret, expiry))
}

// NewDefaultFlow creates a UseFlow over the given gorm DB using the default
// session manager. Embedders who need a custom clock, telemetry, or issuance
// defaults should wire flow.NewUseFlow directly.
func NewDefaultFlow(db *gorm.DB, sessionSecret string, sessionExpiry time.Duration) (*flow.UseFlow, *session.Manager) {
	repo := kgorm.NewRepository(db)
	sessions := NewDefaultSessionManager(sessionSecret, sessionExpiry)
	return flow.NewUseFlow(repo, sessions), sessions
}
