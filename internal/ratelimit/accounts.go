// accounts.go: Account directory implementations
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// StaticAccountDirectory serves registration times from a fixed map. It
// backs tests and demo deployments; production deployments implement
// AccountDirectory against their user store.
type StaticAccountDirectory struct {
	mu       sync.RWMutex
	accounts map[string]time.Time
}

// NewStaticAccountDirectory copies the given identity -> created-at map.
func NewStaticAccountDirectory(accounts map[string]time.Time) *StaticAccountDirectory {
	copied := make(map[string]time.Time, len(accounts))
	for id, createdAt := range accounts {
		copied[id] = createdAt
	}
	return &StaticAccountDirectory{accounts: copied}
}

func (d *StaticAccountDirectory) AccountCreatedAt(_ context.Context, identity string) (time.Time, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	createdAt, ok := d.accounts[identity]
	return createdAt, ok, nil
}

// SetAccount adds or updates one account entry.
func (d *StaticAccountDirectory) SetAccount(identity string, createdAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[identity] = createdAt
}
