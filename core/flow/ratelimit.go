package flow

import (
	"context"
	"sync"
	"time"

	"github.com/getkayan/magiclink/core/audit"
	"github.com/getkayan/magiclink/core/identity"
	"github.com/getkayan/magiclink/core/link"
	"github.com/getkayan/magiclink/core/telemetry"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	// Allow checks if the request should be allowed based on the key and
	// rate limit. remaining indicates how many requests are left in the
	// current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, err error)

	// Reset clears the rate limit counter for the given key.
	Reset(ctx context.Context, key string) error
}

// RateLimitedFlow decorates a LinkFlow with per-client rate limiting, keyed
// by the requester's remote address. A denied request never reaches lookup,
// so like a token miss it writes no audit entry.
type RateLimitedFlow struct {
	next      LinkFlow
	limiter   RateLimiter
	limit     int
	window    time.Duration
	telemetry *telemetry.Provider
}

// NewRateLimitedFlow wraps a flow with rate limiting. A limit of zero
// disables the check.
func NewRateLimitedFlow(next LinkFlow, limiter RateLimiter, limit int, window time.Duration, tel *telemetry.Provider) *RateLimitedFlow {
	return &RateLimitedFlow{
		next:      next,
		limiter:   limiter,
		limit:     limit,
		window:    window,
		telemetry: tel,
	}
}

func (f *RateLimitedFlow) check(ctx context.Context, meta audit.RequestMeta) error {
	if f.limit <= 0 || meta.RemoteAddr == "" {
		return nil
	}
	allowed, _, err := f.limiter.Allow(ctx, meta.RemoteAddr, f.limit, f.window)
	if err != nil {
		// Fail closed: a broken limiter should not open the door.
		return err
	}
	if !allowed {
		if f.telemetry != nil {
			f.telemetry.RecordRateLimited(ctx)
		}
		return link.ErrRateLimited
	}
	return nil
}

func (f *RateLimitedFlow) Peek(ctx context.Context, token string, requester *identity.Identity, meta audit.RequestMeta) (*link.MagicLink, error) {
	if err := f.check(ctx, meta); err != nil {
		return nil, err
	}
	return f.next.Peek(ctx, token, requester, meta)
}

func (f *RateLimitedFlow) Consume(ctx context.Context, token string, requester *identity.Identity, meta audit.RequestMeta) (*Login, error) {
	if err := f.check(ctx, meta); err != nil {
		return nil, err
	}
	return f.next.Consume(ctx, token, requester, meta)
}

// ---- Memory Rate Limiter ----

type slidingWindowEntry struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// MemoryRateLimiter implements rate limiting using an in-memory sliding
// window. Single-process only; use the Redis implementation for multi-node
// deployments.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*slidingWindowEntry
	lastSweep time.Time
}

// NewMemoryRateLimiter creates a new memory-based rate limiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{entries: make(map[string]*slidingWindowEntry)}
}

// sweep drops entries whose window has fully elapsed, so keys for clients
// that went quiet do not accumulate forever. Caller holds r.mu.
func (r *MemoryRateLimiter) sweep(cutoff time.Time) {
	for key, entry := range r.entries {
		entry.mu.Lock()
		idle := len(entry.timestamps) == 0 ||
			!entry.timestamps[len(entry.timestamps)-1].After(cutoff)
		entry.mu.Unlock()
		if idle {
			delete(r.entries, key)
		}
	}
}

func (r *MemoryRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	now := time.Now()
	cutoff := now.Add(-window)

	r.mu.Lock()
	if now.Sub(r.lastSweep) >= window {
		r.sweep(cutoff)
		r.lastSweep = now
	}
	entry, ok := r.entries[key]
	if !ok {
		entry = &slidingWindowEntry{}
		r.entries[key] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	valid := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= limit {
		return false, 0, nil
	}

	entry.timestamps = append(entry.timestamps, now)
	return true, limit - len(entry.timestamps), nil
}

func (r *MemoryRateLimiter) Reset(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}
