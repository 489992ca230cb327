// block.go: Short-lived deny-list with atomic acquire
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BlockManager maintains the per-identity deny-list. A block is a bare key
// with a TTL: its existence is the block state, and SetIfAbsent doubles as a
// distributed lock so only one instance creates a given block. Blocks expire
// on their own; a crashed instance can never leave a permanent lockout.
type BlockManager struct {
	store  Store
	prefix string
	logger *zap.Logger
}

// NewBlockManager creates a block manager using the given key prefix.
func NewBlockManager(store Store, prefix string, logger *zap.Logger) *BlockManager {
	return &BlockManager{store: store, prefix: prefix, logger: logger}
}

func (bm *BlockManager) key(identity string) string {
	return bm.prefix + ":blk:" + identity
}

// TryBlock creates a block for identity with the given TTL, reporting
// whether this call created it. false with nil error means another instance
// already holds the block.
func (bm *BlockManager) TryBlock(ctx context.Context, identity string, ttl time.Duration) (bool, error) {
	acquired, err := bm.store.SetIfAbsent(ctx, bm.key(identity), ttl)
	if err != nil {
		return false, err
	}
	if acquired {
		bm.logger.Warn("identity blocked",
			zap.String("identity", identity),
			zap.Duration("ttl", ttl))
	}
	return acquired, nil
}

// IsBlocked reports whether identity has an active block and its remaining
// TTL.
func (bm *BlockManager) IsBlocked(ctx context.Context, identity string) (time.Duration, bool, error) {
	return bm.store.TTL(ctx, bm.key(identity))
}

// Unblock removes an active block. Used by administrative reset only;
// blocks otherwise expire on their own.
func (bm *BlockManager) Unblock(ctx context.Context, identity string) error {
	return bm.store.Delete(ctx, bm.key(identity))
}
