package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/getkayan/magiclink/core/audit"
	"github.com/getkayan/magiclink/core/domain"
	"github.com/getkayan/magiclink/core/identity"
	"github.com/getkayan/magiclink/core/link"
	"github.com/getkayan/magiclink/core/telemetry"
	"github.com/google/uuid"
)

// UseFlow implements LinkFlow against a transactional storage backend.
type UseFlow struct {
	storage   domain.Storage
	auth      Authenticator
	clock     link.Clock
	telemetry *telemetry.Provider

	defaultTTL      time.Duration
	defaultRedirect string
}

// Option configures a UseFlow.
type Option func(*UseFlow)

// WithClock overrides the time source.
func WithClock(c link.Clock) Option {
	return func(f *UseFlow) { f.clock = c }
}

// WithTelemetry attaches a metrics provider.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(f *UseFlow) { f.telemetry = p }
}

// WithDefaults sets the issuance defaults for link lifetime and redirect
// target.
func WithDefaults(ttl time.Duration, redirect string) Option {
	return func(f *UseFlow) {
		f.defaultTTL = ttl
		f.defaultRedirect = redirect
	}
}

// NewUseFlow creates a flow over the given storage and session collaborator.
func NewUseFlow(storage domain.Storage, auth Authenticator, opts ...Option) *UseFlow {
	f := &UseFlow{
		storage:         storage,
		auth:            auth,
		clock:           link.SystemClock{},
		defaultTTL:      5 * time.Minute,
		defaultRedirect: link.DefaultRedirect,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Issue creates a link for the given identity. Zero ttl and empty redirect
// fall back to the configured defaults. The identity must exist and be
// active.
func (f *UseFlow) Issue(ctx context.Context, identityID, redirectTo string, ttl time.Duration) (*link.MagicLink, error) {
	ident, err := f.storage.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, ErrUnknownIdentity
	}
	if !ident.IsActive() {
		return nil, ErrInactiveIdentity
	}

	if ttl <= 0 {
		ttl = f.defaultTTL
	}
	if redirectTo == "" {
		redirectTo = f.defaultRedirect
	}

	l := link.New(identityID, redirectTo, ttl, f.clock.Now())
	if err := f.storage.CreateLink(ctx, l); err != nil {
		return nil, fmt.Errorf("flow: create link: %w", err)
	}
	if f.telemetry != nil {
		f.telemetry.RecordIssued(ctx)
	}
	return l, nil
}

// Peek handles a read-style request: validate and authorize without
// consuming. Exactly one audit entry is written whatever the outcome, and
// the first entry ever written for a link stamps its AccessedAt.
func (f *UseFlow) Peek(ctx context.Context, token string, requester *identity.Identity, meta audit.RequestMeta) (*link.MagicLink, error) {
	var (
		l         *link.MagicLink
		rejection error
	)

	err := f.storage.WithinTx(ctx, func(tx domain.Storage) error {
		var err error
		l, err = tx.GetLinkByToken(ctx, token)
		if err != nil {
			return err
		}

		now := f.clock.Now()
		rejection = l.Validate(now)
		if rejection == nil {
			rejection = l.Authorize(requester)
		}
		return f.recordUse(ctx, tx, l, meta, rejection, now)
	})
	if err != nil {
		return nil, err
	}

	f.recordMetric(ctx, meta.HTTPMethod, rejection)
	return l, rejection
}

// Consume handles a state-changing request. On success it establishes a
// session as the link's owner, disables the link, and writes a success audit
// entry stamped with the login timestamp, all within one serializable unit
// of work scoped to the link row. Of two racing consume attempts exactly one
// can succeed; the loser re-reads the committed state and is rejected.
func (f *UseFlow) Consume(ctx context.Context, token string, requester *identity.Identity, meta audit.RequestMeta) (*Login, error) {
	var (
		login     *Login
		rejection error
	)

	err := f.storage.WithinTx(ctx, func(tx domain.Storage) error {
		l, err := tx.GetLinkByToken(ctx, token)
		if err != nil {
			return err
		}

		now := f.clock.Now()
		rejection = l.Validate(now)
		if rejection == nil {
			rejection = l.Authorize(requester)
		}
		if rejection != nil {
			// The rejection itself commits: the audit entry and the
			// first-access stamp must survive.
			login = &Login{Link: l}
			return f.recordUse(ctx, tx, l, meta, rejection, now)
		}

		sess, err := f.auth.Establish(l.IdentityID)
		if err != nil {
			return fmt.Errorf("flow: establish session: %w", err)
		}

		l.MarkLoggedIn(now)
		l.Disable()
		if err := tx.SaveLink(ctx, l); err != nil {
			return fmt.Errorf("flow: save link: %w", err)
		}
		// The audit entry carries the exact login timestamp so the trail
		// and the link agree.
		if err := f.recordUse(ctx, tx, l, meta, nil, *l.LoggedInAt); err != nil {
			return err
		}

		login = &Login{Link: l, Session: sess, RedirectTo: l.RedirectTo}
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.recordMetric(ctx, meta.HTTPMethod, rejection)
	if rejection != nil {
		return login, rejection
	}
	if f.telemetry != nil {
		f.telemetry.RecordLogin(ctx)
	}
	return login, nil
}

// Disable is the administrative kill switch: it deactivates the link
// regardless of expiry. Idempotent.
func (f *UseFlow) Disable(ctx context.Context, token string) error {
	return f.storage.WithinTx(ctx, func(tx domain.Storage) error {
		l, err := tx.GetLinkByToken(ctx, token)
		if err != nil {
			return err
		}
		l.Disable()
		return tx.SaveLink(ctx, l)
	})
}

// Uses returns the audit trail for a link, newest first.
func (f *UseFlow) Uses(ctx context.Context, token string, filter audit.Filter) ([]audit.Use, error) {
	l, err := f.storage.GetLinkByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	filter.LinkID = l.ID
	return f.storage.Query(ctx, filter)
}

// recordUse appends the audit entry and stamps AccessedAt on the first use.
func (f *UseFlow) recordUse(ctx context.Context, tx domain.Storage, l *link.MagicLink, meta audit.RequestMeta, rejection error, ts time.Time) error {
	use := &audit.Use{
		ID:         uuid.New().String(),
		LinkID:     l.ID,
		Timestamp:  ts,
		HTTPMethod: meta.HTTPMethod,
		SessionKey: meta.SessionKey,
		RemoteAddr: meta.RemoteAddr,
		UserAgent:  meta.UserAgent,
	}
	if rejection != nil {
		use.Error = rejection.Error()
	}
	if err := tx.SaveUse(ctx, use); err != nil {
		return fmt.Errorf("flow: record use: %w", err)
	}
	if l.AccessedAt == nil {
		l.MarkAccessed(ts)
		if err := tx.SaveLink(ctx, l); err != nil {
			return fmt.Errorf("flow: stamp first access: %w", err)
		}
	}
	return nil
}

func (f *UseFlow) recordMetric(ctx context.Context, method string, rejection error) {
	if f.telemetry == nil {
		return
	}
	outcome := "success"
	if rejection != nil {
		outcome = rejection.Error()
	}
	f.telemetry.RecordUse(ctx, method, outcome)
}
