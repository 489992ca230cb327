// behavior.go: Asynchronous per-identity outcome tracking
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type outcomeEvent struct {
	identity string
	outcome  Outcome
}

// BehaviorTracker records request outcomes off the critical path. Record
// hands the sample to a bounded queue and returns immediately; a worker
// goroutine applies it to the store. When the queue is full the sample is
// dropped rather than blocking the request path, and a worker failure is
// logged, never propagated.
type BehaviorTracker struct {
	store  Store
	policy func() *Policy
	logger *zap.Logger
	queue  chan outcomeEvent
	done   chan struct{}
}

// NewBehaviorTracker creates a tracker reading live policy through the given
// accessor, so hot policy updates apply without restarting the worker.
func NewBehaviorTracker(store Store, policy func() *Policy, logger *zap.Logger) *BehaviorTracker {
	return &BehaviorTracker{
		store:  store,
		policy: policy,
		logger: logger,
		queue:  make(chan outcomeEvent, policy().TrackerQueueSize),
		done:   make(chan struct{}),
	}
}

// Start runs the worker until ctx is cancelled.
func (bt *BehaviorTracker) Start(ctx context.Context) {
	go func() {
		defer close(bt.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-bt.queue:
				bt.apply(ev)
			}
		}
	}()
}

// Wait blocks until the worker has stopped after Start's context was
// cancelled.
func (bt *BehaviorTracker) Wait() {
	<-bt.done
}

// Record enqueues one request outcome for identity. It never blocks: a full
// queue drops the sample, which only delays classification, never safety.
func (bt *BehaviorTracker) Record(identity string, outcome Outcome) {
	if outcome.At.IsZero() {
		outcome.At = time.Now()
	}
	select {
	case bt.queue <- outcomeEvent{identity: identity, outcome: outcome}:
	default:
		trackerDropped.Inc()
		bt.logger.Debug("behavior queue full, sample dropped", zap.String("identity", identity))
	}
}

func (bt *BehaviorTracker) apply(ev outcomeEvent) {
	p := bt.policy()
	ctx, cancel := context.WithTimeout(context.Background(), p.StoreTimeout)
	defer cancel()

	success := ev.outcome.Status < 400
	authFailure := ev.outcome.AuthFailure || ev.outcome.Status == 401
	key := p.KeyPrefix + ":beh:" + ev.identity
	if err := bt.store.UpdateBehavior(ctx, key, success, authFailure, ev.outcome.At, p.RapidInterval, p.BehaviorTTL); err != nil {
		storeErrors.Inc()
		bt.logger.Warn("behavior update failed", zap.String("identity", ev.identity), zap.Error(err))
	}
}
