// types.go: Core types and interfaces for adaptive admission control
package ratelimit

import (
	"context"
	"time"
)

// Category is the trust classification of a caller, derived on every
// decision from account age and observed behavior. It is never persisted.
type Category string

const (
	CategoryNew     Category = "NEW"
	CategoryRegular Category = "REGULAR"
	CategoryPower   Category = "POWER"
)

// BehaviorStats holds the per-identity counters maintained by the
// BehaviorTracker. Counters are monotonic; the error rate is the counted
// ratio of failures over total completed requests.
type BehaviorStats struct {
	Successes          int64     `json:"successes"`
	Failures           int64     `json:"failures"`
	RapidRequests      int64     `json:"rapid_requests"`
	FailedAuthAttempts int64     `json:"failed_auth_attempts"`
	LastRequest        time.Time `json:"last_request,omitempty"`
}

// ErrorRate returns the fraction of completed requests that failed, in [0, 1].
func (s BehaviorStats) ErrorRate() float64 {
	total := s.Successes + s.Failures
	if total == 0 {
		return 0
	}
	return float64(s.Failures) / float64(total)
}

// Outcome describes how a wrapped request finished. It is recorded
// asynchronously after response completion, never on admission.
type Outcome struct {
	Status      int
	AuthFailure bool
	At          time.Time
}

// Decision is the ephemeral result of one admission check. It is written
// into response metadata and discarded.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Category   Category
	Code       string
	Fallback   bool
}

// CheckRequest carries the request attributes the admission check needs.
// Identity must already be resolved by the host's auth middleware; an
// anonymous caller is keyed by client IP.
type CheckRequest struct {
	Identity  string
	Anonymous bool
	Method    string
	Path      string
}

// IdentityStatus is the administrative snapshot of a single identity.
// Windows holds the current sliding-window occupancy per endpoint class.
type IdentityStatus struct {
	Identity string           `json:"identity"`
	Category Category         `json:"category"`
	Blocked  bool             `json:"blocked"`
	BlockTTL time.Duration    `json:"block_ttl,omitempty"`
	Stats    BehaviorStats    `json:"stats"`
	Windows  map[string]int64 `json:"windows"`
}

// Store abstracts the shared coordination backend (Redis in production,
// MemoryStore in tests). Every method that fails due to connectivity or
// timeout must wrap ErrStoreUnavailable so callers can pick the failure
// policy.
type Store interface {
	// RecordWindow atomically prunes entries older than now-window, records
	// an entry at now, refreshes the key TTL to window, and returns the
	// resulting occupancy. The four steps are a single round-trip so that
	// concurrent checks from different instances never act on stale counts.
	RecordWindow(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)

	// CountWindow returns the current occupancy without recording an entry.
	CountWindow(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)

	// UpdateBehavior atomically applies one request outcome to the behavior
	// hash at key: success/failure counters, failed-auth counter, rapid
	// re-request detection against the stored last-request timestamp, and a
	// TTL refresh.
	UpdateBehavior(ctx context.Context, key string, success, authFailure bool, at time.Time, rapidInterval, ttl time.Duration) error

	// GetBehavior reads the behavior hash at key. A missing key yields zero
	// stats and no error.
	GetBehavior(ctx context.Context, key string) (BehaviorStats, error)

	// SetIfAbsent creates key with the given TTL only if it does not exist,
	// reporting whether this call created it.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// TTL returns the remaining lifetime of key, or ok=false when the key
	// does not exist.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Delete removes the given keys.
	Delete(ctx context.Context, keys ...string) error

	// DeleteByPrefix removes every key starting with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// Ping reports backend health.
	Ping(ctx context.Context) error
}

// AccountDirectory supplies account registration times from the long-term
// user store, which is an external collaborator of this component. A
// missing account is not an error: ok=false classifies the caller as NEW.
type AccountDirectory interface {
	AccountCreatedAt(ctx context.Context, identity string) (createdAt time.Time, ok bool, err error)
}
