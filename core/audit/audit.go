// Package audit records every attempt to use a magic link.
//
// Use records are append-only: the only write path is the recorder, and no
// service path ever mutates or deletes an existing record (Purge exists as a
// retention hook for external housekeeping). The canonical pattern is two
// records per successful login, a GET to render the login page and a POST to
// log the user in, and exactly one record per rejected attempt.
package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

// Use is one recorded attempt to use a magic link, successful or not.
// Immutable once created.
type Use struct {
	ID     string `json:"id"`
	LinkID string `json:"link_id"`

	Timestamp  time.Time `json:"timestamp"`
	HTTPMethod string    `json:"http_method"`

	// SessionKey is the requester's session identifier at request time.
	// May be empty for anonymous requesters.
	SessionKey string `json:"session_key,omitempty"`

	// Client fingerprint, best effort.
	RemoteAddr string `json:"remote_addr,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`

	// Error is empty on success, else a short description of the failure.
	Error string `json:"error,omitempty"`
}

// Failed reports whether this use was a rejection.
func (u *Use) Failed() bool { return u.Error != "" }

// RequestMeta is the client context captured into a Use record. It replaces
// ambient framework request state with an explicit parameter.
type RequestMeta struct {
	HTTPMethod string
	SessionKey string
	RemoteAddr string
	UserAgent  string
}

// MetaFromRequest extracts client fingerprint fields from an HTTP request.
// The session key is supplied by the caller since session decoding is a
// boundary concern.
func MetaFromRequest(r *http.Request, sessionKey string) RequestMeta {
	return RequestMeta{
		HTTPMethod: r.Method,
		SessionKey: sessionKey,
		RemoteAddr: parseRemoteAddr(r),
		UserAgent:  r.Header.Get("User-Agent"),
	}
}

// parseRemoteAddr prefers the first X-Forwarded-For hop over the socket peer.
// The result is a bare IP: the ephemeral source port changes per connection
// and must not leak into rate-limit keys or audit rows.
func parseRemoteAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Store persists and queries use records.
type Store interface {
	// SaveUse appends a use record.
	SaveUse(ctx context.Context, use *Use) error

	// Query returns records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Use, error)

	// Count returns the number of records matching the filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// Purge deletes records older than the specified time and returns how
	// many were removed. Retention is an operator concern; the service
	// itself never calls this.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// Filter for querying use records.
type Filter struct {
	LinkID       string
	FailuresOnly bool
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
	Offset       int
}
