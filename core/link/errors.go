package link

import "errors"

// Every way a link use can be rejected. These are expected, user-triggerable
// outcomes, not system faults; callers match them with errors.Is and turn
// them into audit entries plus structured responses.
var (
	// ErrInvalidLink is the generic rejection. Validate only returns it if
	// the specific checks below all passed yet the link still computes as
	// invalid, which indicates a modeling bug.
	ErrInvalidLink = errors.New("link is invalid")

	// ErrInactiveLink is returned for links that were administratively
	// disabled or already consumed.
	ErrInactiveLink = errors.New("link is inactive")

	// ErrExpiredLink is returned once the current time passes ExpiresAt.
	ErrExpiredLink = errors.New("link has expired")

	// ErrUsedLink is returned for links that already completed a login.
	ErrUsedLink = errors.New("link has already been used")

	// ErrPermissionDenied is returned when the requester is already
	// authenticated as a different identity than the link's owner.
	ErrPermissionDenied = errors.New("user is already logged in as another user")

	// ErrLinkNotFound is returned when a token does not resolve to any
	// stored link. Lookup failure precedes auditing, so no use record is
	// written for it.
	ErrLinkNotFound = errors.New("link not found")

	// ErrRateLimited is returned when a client exceeds the configured use
	// attempt rate. Like ErrLinkNotFound it precedes auditing.
	ErrRateLimited = errors.New("too many link use attempts")
)

// IsRejection reports whether err is part of the link rejection taxonomy,
// as opposed to a system fault such as a storage failure.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidLink,
		ErrInactiveLink,
		ErrExpiredLink,
		ErrUsedLink,
		ErrPermissionDenied,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
