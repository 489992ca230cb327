// service.go: Admission service orchestrating block, window, limit and tracking
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service is the adaptive admission controller. One instance per process;
// every dependency is injected through the constructor so independent
// limiters (and test doubles) can coexist.
type Service struct {
	store    Store
	accounts AccountDirectory
	logger   *zap.Logger
	tracker  *BehaviorTracker

	mu       sync.RWMutex
	policy   *Policy
	blocks   *BlockManager
	fallback *FallbackLimiter
}

// NewService validates the policy and wires the component graph.
func NewService(store Store, accounts AccountDirectory, policy *Policy, logger *zap.Logger) (*Service, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		store:    store,
		accounts: accounts,
		logger:   logger,
		policy:   policy.Clone(),
	}
	s.blocks = NewBlockManager(store, s.policy.KeyPrefix, logger)
	s.fallback = NewFallbackLimiter(s.policy.Fallback.Limit, s.policy.Fallback.Window)
	s.tracker = NewBehaviorTracker(store, s.Policy, logger)
	return s, nil
}

// Start launches the asynchronous behavior worker; it stops when ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) {
	s.tracker.Start(ctx)
}

// Policy returns the live policy. The returned value is swapped, never
// mutated, so it is safe to read without further locking.
func (s *Service) Policy() *Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SetPolicy validates and installs a new policy, rebuilding the block
// manager and fallback limiter whose parameters it owns.
func (s *Service) SetPolicy(policy *Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = policy.Clone()
	s.blocks = NewBlockManager(s.store, s.policy.KeyPrefix, s.logger)
	s.fallback = NewFallbackLimiter(s.policy.Fallback.Limit, s.policy.Fallback.Window)
	s.logger.Info("admission policy updated",
		zap.Int("limit_new", s.policy.BaseLimits[CategoryNew]),
		zap.Int("limit_regular", s.policy.BaseLimits[CategoryRegular]),
		zap.Int("limit_power", s.policy.BaseLimits[CategoryPower]))
	return nil
}

func (s *Service) blockManager() *BlockManager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks
}

func (s *Service) fallbackLimiter() *FallbackLimiter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

// Check runs one admission decision. Infrastructure failures never surface:
// a store outage degrades to the local fallback limiter, so an unavailable
// store cannot become a full service outage.
func (s *Service) Check(ctx context.Context, req CheckRequest) Decision {
	start := time.Now()
	defer func() { decisionSeconds.Observe(time.Since(start).Seconds()) }()

	p := s.Policy()
	if !p.Enabled {
		return Decision{Allowed: true}
	}

	// Block state overrides everything else.
	ttl, blocked, err := s.isBlocked(ctx, p, req.Identity)
	if err != nil {
		return s.fallbackDecision(p, req.Identity, err)
	}
	if blocked {
		decisionsTotal.WithLabelValues("blocked").Inc()
		return Decision{
			Allowed:    false,
			RetryAfter: ttl,
			Code:       CodeIdentityBlocked,
		}
	}

	stats, err := s.loadStats(ctx, p, req.Identity)
	if err != nil {
		return s.fallbackDecision(p, req.Identity, err)
	}
	age := s.accountAge(ctx, req)

	// Abuse thresholds create a block that short-circuits this and every
	// following request until the TTL elapses.
	if stats.RapidRequests > p.RapidBlockThreshold || stats.FailedAuthAttempts > p.AuthFailThreshold {
		if dec, ok := s.blockForAbuse(ctx, p, req.Identity, stats); ok {
			return dec
		}
	}

	occupancy, err := s.recordWindow(ctx, p, req)
	if err != nil {
		return s.fallbackDecision(p, req.Identity, err)
	}

	category := Classify(p, age, stats)
	limit := ComputeLimit(p, category, req.Path, stats)
	remaining := limit - int(occupancy)
	if remaining < 0 {
		remaining = 0
	}

	dec := Decision{
		Allowed:   int(occupancy) <= limit,
		Limit:     limit,
		Remaining: remaining,
		Category:  category,
	}
	if dec.Allowed {
		decisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		dec.Code = CodeRateLimitExceeded
		decisionsTotal.WithLabelValues("denied").Inc()
	}
	return dec
}

// RecordOutcome schedules an asynchronous behavior update for a completed
// request. It never blocks and never fails.
func (s *Service) RecordOutcome(identity string, outcome Outcome) {
	s.tracker.Record(identity, outcome)
}

// GetStatus returns the administrative snapshot for one identity.
func (s *Service) GetStatus(ctx context.Context, identity string) (IdentityStatus, error) {
	p := s.Policy()
	stats, err := s.store.GetBehavior(ctx, p.KeyPrefix+":beh:"+identity)
	if err != nil {
		return IdentityStatus{}, err
	}
	ttl, blocked, err := s.blockManager().IsBlocked(ctx, identity)
	if err != nil {
		return IdentityStatus{}, err
	}
	age := s.accountAge(ctx, CheckRequest{Identity: identity})

	windows := make(map[string]int64)
	now := time.Now()
	for _, class := range p.EndpointClasses() {
		occ, err := s.store.CountWindow(ctx, p.KeyPrefix+":win:"+identity+":"+class, now, p.Window)
		if err != nil {
			return IdentityStatus{}, err
		}
		windows[class] = occ
	}

	return IdentityStatus{
		Identity: identity,
		Category: Classify(p, age, stats),
		Blocked:  blocked,
		BlockTTL: ttl,
		Stats:    stats,
		Windows:  windows,
	}, nil
}

// ResetLimit clears all window, behavior, block and local fallback state for
// an identity. The next request behaves exactly like a first-ever request.
func (s *Service) ResetLimit(ctx context.Context, identity string) error {
	p := s.Policy()
	if err := s.store.DeleteByPrefix(ctx, p.KeyPrefix+":win:"+identity+":"); err != nil {
		return fmt.Errorf("reset windows: %w", err)
	}
	if err := s.store.Delete(ctx, p.KeyPrefix+":beh:"+identity); err != nil {
		return fmt.Errorf("reset behavior: %w", err)
	}
	if err := s.blockManager().Unblock(ctx, identity); err != nil {
		return fmt.Errorf("reset block: %w", err)
	}
	s.fallbackLimiter().Reset(identity)
	s.logger.Info("rate limit state reset", zap.String("identity", identity))
	return nil
}

// Healthy reports coordination store reachability.
func (s *Service) Healthy(ctx context.Context) error {
	p := s.Policy()
	ctx, cancel := context.WithTimeout(ctx, p.StoreTimeout)
	defer cancel()
	return s.store.Ping(ctx)
}

func (s *Service) isBlocked(ctx context.Context, p *Policy, identity string) (time.Duration, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.StoreTimeout)
	defer cancel()
	return s.blockManager().IsBlocked(ctx, identity)
}

func (s *Service) loadStats(ctx context.Context, p *Policy, identity string) (BehaviorStats, error) {
	ctx, cancel := context.WithTimeout(ctx, p.StoreTimeout)
	defer cancel()
	return s.store.GetBehavior(ctx, p.KeyPrefix+":beh:"+identity)
}

func (s *Service) recordWindow(ctx context.Context, p *Policy, req CheckRequest) (int64, error) {
	class, _ := p.MatchEndpoint(req.Path)
	key := p.KeyPrefix + ":win:" + req.Identity + ":" + class
	ctx, cancel := context.WithTimeout(ctx, p.StoreTimeout)
	defer cancel()
	return s.store.RecordWindow(ctx, key, time.Now(), p.Window)
}

func (s *Service) accountAge(ctx context.Context, req CheckRequest) time.Duration {
	if req.Anonymous || s.accounts == nil {
		return UnknownAccountAge
	}
	createdAt, ok, err := s.accounts.AccountCreatedAt(ctx, req.Identity)
	if err != nil {
		// Missing account data only lowers the category, never denies.
		s.logger.Debug("account lookup failed", zap.String("identity", req.Identity), zap.Error(err))
		return UnknownAccountAge
	}
	if !ok {
		return UnknownAccountAge
	}
	return time.Since(createdAt)
}

// blockForAbuse tries to create the block and converts it into a deny. A
// store failure here is not fatal: the window step will hit the same outage
// and route to the fallback limiter.
func (s *Service) blockForAbuse(ctx context.Context, p *Policy, identity string, stats BehaviorStats) (Decision, bool) {
	bctx, cancel := context.WithTimeout(ctx, p.StoreTimeout)
	defer cancel()
	acquired, err := s.blockManager().TryBlock(bctx, identity, p.BlockTTL)
	if err != nil {
		storeErrors.Inc()
		return Decision{}, false
	}
	if acquired {
		blocksCreated.Inc()
		s.logger.Warn("abuse block created",
			zap.String("identity", identity),
			zap.Int64("rapid_requests", stats.RapidRequests),
			zap.Int64("failed_auth", stats.FailedAuthAttempts))
	}
	decisionsTotal.WithLabelValues("blocked").Inc()
	return Decision{
		Allowed:    false,
		RetryAfter: p.BlockTTL,
		Code:       CodeIdentityBlocked,
	}, true
}

func (s *Service) fallbackDecision(p *Policy, identity string, cause error) Decision {
	storeErrors.Inc()
	fallbackDecisions.Inc()
	s.logger.Warn("store unavailable, using local fallback limiter",
		zap.String("identity", identity), zap.Error(cause))

	fl := s.fallbackLimiter()
	remaining, allowed := fl.Allow(identity)
	dec := Decision{
		Allowed:   allowed,
		Limit:     fl.Limit(),
		Remaining: remaining,
		Fallback:  true,
	}
	if allowed {
		decisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		dec.Code = CodeRateLimitExceeded
		decisionsTotal.WithLabelValues("denied").Inc()
	}
	return dec
}
