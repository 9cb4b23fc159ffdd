package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getkayan/magiclink/core/audit"
	"github.com/getkayan/magiclink/core/domain"
	"github.com/getkayan/magiclink/core/identity"
	"github.com/getkayan/magiclink/core/link"
	"github.com/getkayan/magiclink/core/session"
)

// mockStorage is an in-memory Storage whose WithinTx serializes units of
// work behind a single mutex, mirroring the single-row isolation the real
// backend provides.
type mockStorage struct {
	txMu sync.Mutex

	mu     sync.Mutex
	links  map[string]*link.MagicLink // keyed by token
	uses   []audit.Use
	idents map[string]*identity.Identity
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		links:  make(map[string]*link.MagicLink),
		idents: make(map[string]*identity.Identity),
	}
}

func (m *mockStorage) WithinTx(ctx context.Context, fn func(tx domain.Storage) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}

func (m *mockStorage) CreateLink(ctx context.Context, l *link.MagicLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.links[l.Token] = &cp
	return nil
}

func (m *mockStorage) GetLinkByToken(ctx context.Context, token string) (*link.MagicLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[token]
	if !ok {
		return nil, link.ErrLinkNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *mockStorage) SaveLink(ctx context.Context, l *link.MagicLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.links[l.Token] = &cp
	return nil
}

func (m *mockStorage) GetIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.idents[id]
	if !ok {
		return nil, fmt.Errorf("identity not found")
	}
	return i, nil
}

func (m *mockStorage) SaveUse(ctx context.Context, use *audit.Use) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uses = append(m.uses, *use)
	return nil
}

func (m *mockStorage) Query(ctx context.Context, filter audit.Filter) ([]audit.Use, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Use
	for _, u := range m.uses {
		if filter.LinkID != "" && u.LinkID != filter.LinkID {
			continue
		}
		if filter.FailuresOnly && u.Error == "" {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (m *mockStorage) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	uses, _ := m.Query(ctx, filter)
	return int64(len(uses)), nil
}

func (m *mockStorage) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (m *mockStorage) usesFor(linkID string) []audit.Use {
	uses, _ := m.Query(context.Background(), audit.Filter{LinkID: linkID})
	return uses
}

// mockAuthenticator counts established sessions.
type mockAuthenticator struct {
	mu       sync.Mutex
	sessions []string
	fail     bool
}

func (a *mockAuthenticator) Establish(identityID string) (*session.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return nil, fmt.Errorf("session backend down")
	}
	a.sessions = append(a.sessions, identityID)
	return &session.Session{
		ID:         fmt.Sprintf("sess-%d", len(a.sessions)),
		IdentityID: identityID,
		Token:      "signed-token",
		ExpiresAt:  time.Now().Add(time.Hour),
	}, nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestFlow(t *testing.T) (*UseFlow, *mockStorage, *mockAuthenticator) {
	t.Helper()
	storage := newMockStorage()
	storage.idents["user-1"] = &identity.Identity{ID: "user-1", State: identity.StateActive}
	storage.idents["user-2"] = &identity.Identity{ID: "user-2", State: identity.StateActive}
	storage.idents["user-gone"] = &identity.Identity{ID: "user-gone", State: identity.StateInactive}
	auth := &mockAuthenticator{}
	f := NewUseFlow(storage, auth,
		WithClock(link.FixedClock{T: testNow}),
		WithDefaults(5*time.Minute, "/"),
	)
	return f, storage, auth
}

func meta(method string) audit.RequestMeta {
	return audit.RequestMeta{
		HTTPMethod: method,
		RemoteAddr: "203.0.113.7",
		UserAgent:  "test-agent",
	}
}

func TestIssue(t *testing.T) {
	f, storage, _ := newTestFlow(t)

	l, err := f.Issue(context.Background(), "user-1", "", 0)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if l.RedirectTo != "/" {
		t.Errorf("expected default redirect, got %q", l.RedirectTo)
	}
	if !l.ExpiresAt.Equal(testNow.Add(5 * time.Minute)) {
		t.Errorf("expected default ttl, got expiry %v", l.ExpiresAt)
	}
	if _, err := storage.GetLinkByToken(context.Background(), l.Token); err != nil {
		t.Errorf("issued link not persisted: %v", err)
	}

	if _, err := f.Issue(context.Background(), "nobody", "", 0); !errors.Is(err, ErrUnknownIdentity) {
		t.Errorf("expected ErrUnknownIdentity, got %v", err)
	}
	if _, err := f.Issue(context.Background(), "user-gone", "", 0); !errors.Is(err, ErrInactiveIdentity) {
		t.Errorf("expected ErrInactiveIdentity, got %v", err)
	}
}

func TestPeekValid(t *testing.T) {
	f, storage, _ := newTestFlow(t)
	issued, _ := f.Issue(context.Background(), "user-1", "", 0)

	l, err := f.Peek(context.Background(), issued.Token, nil, meta("GET"))
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}

	uses := storage.usesFor(l.ID)
	if len(uses) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(uses))
	}
	if uses[0].Error != "" {
		t.Errorf("expected success entry, got error %q", uses[0].Error)
	}
	if uses[0].HTTPMethod != "GET" {
		t.Errorf("expected GET entry, got %q", uses[0].HTTPMethod)
	}

	stored, _ := storage.GetLinkByToken(context.Background(), issued.Token)
	if stored.AccessedAt == nil || !stored.AccessedAt.Equal(testNow) {
		t.Errorf("expected AccessedAt stamped with %v, got %v", testNow, stored.AccessedAt)
	}
}

func TestPeekFirstAccessWins(t *testing.T) {
	f, storage, _ := newTestFlow(t)
	issued, _ := f.Issue(context.Background(), "user-1", "", 0)

	if _, err := f.Peek(context.Background(), issued.Token, nil, meta("GET")); err != nil {
		t.Fatalf("first peek failed: %v", err)
	}
	first, _ := storage.GetLinkByToken(context.Background(), issued.Token)

	// A later clock must not move the first-access stamp.
	f.clock = link.FixedClock{T: testNow.Add(time.Minute)}
	if _, err := f.Peek(context.Background(), issued.Token, nil, meta("GET")); err != nil {
		t.Fatalf("second peek failed: %v", err)
	}

	second, _ := storage.GetLinkByToken(context.Background(), issued.Token)
	if !second.AccessedAt.Equal(*first.AccessedAt) {
		t.Errorf("AccessedAt moved from %v to %v", first.AccessedAt, second.AccessedAt)
	}
	if got := len(storage.usesFor(issued.ID)); got != 2 {
		t.Errorf("expected two audit entries, got %d", got)
	}
}

func TestPeekExpired(t *testing.T) {
	f, storage, _ := newTestFlow(t)
	issued, _ := f.Issue(context.Background(), "user-1", "", time.Second)
	f.clock = link.FixedClock{T: testNow.Add(2 * time.Second)}

	_, err := f.Peek(context.Background(), issued.Token, nil, meta("GET"))
	if !errors.Is(err, link.ErrExpiredLink) {
		t.Fatalf("expected ErrExpiredLink, got %v", err)
	}

	uses := storage.usesFor(issued.ID)
	if len(uses) != 1 {
		t.Fatalf("expected exactly one audit entry for the rejection, got %d", len(uses))
	}
	if uses[0].Error != link.ErrExpiredLink.Error() {
		t.Errorf("expected expiry error recorded, got %q", uses[0].Error)
	}
}

func TestPeekNotFoundWritesNoAudit(t *testing.T) {
	f, storage, _ := newTestFlow(t)

	_, err := f.Peek(context.Background(), "no-such-token", nil, meta("GET"))
	if !errors.Is(err, link.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
	if len(storage.uses) != 0 {
		t.Errorf("lookup failure must precede auditing, found %d entries", len(storage.uses))
	}
}

func TestPeekCrossUser(t *testing.T) {
	f, storage, _ := newTestFlow(t)
	issued, _ := f.Issue(context.Background(), "user-1", "", 0)

	other := &identity.Identity{ID: "user-2"}
	_, err := f.Peek(context.Background(), issued.Token, other, meta("GET"))
	if !errors.Is(err, link.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	uses := storage.usesFor(issued.ID)
	if len(uses) != 1 || uses[0].Error == "" {
		t.Fatalf("expected one failure entry, got %v", uses)
	}

	// The owner and an anonymous requester are both fine.
	owner := &identity.Identity{ID: "user-1"}
	if _, err := f.Peek(context.Background(), issued.Token, owner, meta("GET")); err != nil {
		t.Errorf("owner peek failed: %v", err)
	}
	if _, err := f.Peek(context.Background(), issued.Token, nil, meta("GET")); err != nil {
		t.Errorf("anonymous peek failed: %v", err)
	}
}

func TestConsume(t *testing.T) {
	f, storage, auth := newTestFlow(t)
	issued, _ := f.Issue(context.Background(), "user-1", "/app", 0)

	login, err := f.Consume(context.Background(), issued.Token, nil, meta("POST"))
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if login.RedirectTo != "/app" {
		t.Errorf("expected redirect to /app, got %q", login.RedirectTo)
	}
	if login.Session == nil || login.Session.IdentityID != "user-1" {
		t.Errorf("expected session for user-1, got %+v", login.Session)
	}
	if len(auth.sessions) != 1 {
		t.Errorf("expected one established session, got %d", len(auth.sessions))
	}

	stored, _ := storage.GetLinkByToken(context.Background(), issued.Token)
	if stored.Active {
		t.Error("consumed link must be disabled")
	}
	if stored.LoggedInAt == nil || !stored.LoggedInAt.Equal(testNow) {
		t.Errorf("expected LoggedInAt %v, got %v", testNow, stored.LoggedInAt)
	}

	// The audit entry carries exactly the login timestamp.
	uses := storage.usesFor(issued.ID)
	if len(uses) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(uses))
	}
	if !uses[0].Timestamp.Equal(*stored.LoggedInAt) {
		t.Errorf("audit timestamp %v does not match LoggedInAt %v", uses[0].Timestamp, stored.LoggedInAt)
	}
	if uses[0].Error != "" {
		t.Errorf("expected success entry, got %q", uses[0].Error)
	}
}

func TestConsumeTwice(t *testing.T) {
	f, storage, auth := newTestFlow(t)
	issued, _ := f.Issue(context.Background(), "user-1", "", 0)

	if _, err := f.Consume(context.Background(), issued.Token, nil, meta("POST")); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	before, _ := storage.GetLinkByToken(context.Background(), issued.Token)

	// Disable follows login in the consume path, so the replay is rejected
	// as inactive, per the validation priority order.
	_, err := f.Consume(context.Background(), issued.Token, nil, meta("POST"))
	if !errors.Is(err, link.ErrInactiveLink) {
		t.Fatalf("expected ErrInactiveLink on replay, got %v", err)
	}

	after, _ := storage.GetLinkByToken(context.Background(), issued.Token)
	if !after.LoggedInAt.Equal(*before.LoggedInAt) {
		t.Error("replay must not move LoggedInAt")
	}
	if len(auth.sessions) != 1 {
		t.Errorf("expected no second session, got %d", len(auth.sessions))
	}
	uses := storage.usesFor(issued.ID)
	if len(uses) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(uses))
	}
}

func TestConsumeSessionFailureLeavesLinkValid(t *testing.T) {
	f, storage, auth := newTestFlow(t)
	issued, _ := f.Issue(context.Background(), "user-1", "", 0)
	auth.fail = true

	if _, err := f.Consume(context.Background(), issued.Token, nil, meta("POST")); err == nil {
		t.Fatal("expected consume to fail when the session backend is down")
	}

	// The unit of work aborted, so nothing in the mock was written after
	// the failure point and the link is still consumable.
	stored, _ := storage.GetLinkByToken(context.Background(), issued.Token)
	if !stored.Active || stored.LoggedInAt != nil {
		t.Errorf("failed consume must not change link state: %+v", stored)
	}

	auth.fail = false
	if _, err := f.Consume(context.Background(), issued.Token, nil, meta("POST")); err != nil {
		t.Errorf("link must still be consumable after recovery: %v", err)
	}
}

func TestConsumeRace(t *testing.T) {
	f, storage, auth := newTestFlow(t)
	issued, _ := f.Issue(context.Background(), "user-1", "", 0)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.Consume(context.Background(), issued.Token, nil, meta("POST"))
			results <- err
		}()
	}

	var wins, losses int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			wins++
		case errors.Is(err, link.ErrInactiveLink) || errors.Is(err, link.ErrUsedLink):
			losses++
		default:
			t.Errorf("unexpected race outcome: %v", err)
		}
	}

	if wins != 1 || losses != 1 {
		t.Errorf("expected exactly one winner and one clean loser, got %d/%d", wins, losses)
	}
	if len(auth.sessions) != 1 {
		t.Errorf("expected exactly one login, got %d", len(auth.sessions))
	}
	if got := len(storage.usesFor(issued.ID)); got != 2 {
		t.Errorf("expected two audit entries (one success, one failure), got %d", got)
	}
}

func TestDisableKillSwitch(t *testing.T) {
	f, storage, _ := newTestFlow(t)
	issued, _ := f.Issue(context.Background(), "user-1", "", 0)

	if err := f.Disable(context.Background(), issued.Token); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	stored, _ := storage.GetLinkByToken(context.Background(), issued.Token)
	if stored.Active {
		t.Error("kill switch must deactivate the link")
	}

	// Administrative disable is independent of login; the link was never
	// used.
	if stored.LoggedInAt != nil {
		t.Error("kill switch must not record a login")
	}
	if _, err := f.Peek(context.Background(), issued.Token, nil, meta("GET")); !errors.Is(err, link.ErrInactiveLink) {
		t.Errorf("expected ErrInactiveLink after kill switch, got %v", err)
	}
}

func TestUses(t *testing.T) {
	f, _, _ := newTestFlow(t)
	issued, _ := f.Issue(context.Background(), "user-1", "", 0)

	_, _ = f.Peek(context.Background(), issued.Token, nil, meta("GET"))
	_, _ = f.Peek(context.Background(), issued.Token, &identity.Identity{ID: "user-2"}, meta("GET"))

	all, err := f.Uses(context.Background(), issued.Token, audit.Filter{})
	if err != nil {
		t.Fatalf("uses query failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected two entries, got %d", len(all))
	}

	failures, err := f.Uses(context.Background(), issued.Token, audit.Filter{FailuresOnly: true})
	if err != nil {
		t.Fatalf("failures query failed: %v", err)
	}
	if len(failures) != 1 {
		t.Errorf("expected one failure entry, got %d", len(failures))
	}

	if _, err := f.Uses(context.Background(), "no-such-token", audit.Filter{}); !errors.Is(err, link.ErrLinkNotFound) {
		t.Errorf("expected ErrLinkNotFound, got %v", err)
	}
}
