// errors.go: Error taxonomy for admission decisions
package ratelimit

import "errors"

var (
	// ErrStoreUnavailable marks any connectivity or timeout failure of the
	// shared store. It is absorbed by the service (fallback path) and never
	// surfaced to the caller.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")

	// ErrBlocked means the identity has an active block entry.
	ErrBlocked = errors.New("identity is blocked")

	// ErrLimitExceeded means window occupancy reached the computed limit.
	ErrLimitExceeded = errors.New("rate limit exceeded")
)

// Machine-readable codes attached to deny responses.
const (
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeIdentityBlocked   = "IDENTITY_BLOCKED"
)
