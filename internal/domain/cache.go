package domain

import (
	"context"
	"time"
)

// BalanceCache holds recently observed locked balances per predicate root.
// Entries are hints only; a fulfiller always re-reads the ledger before
// assembling against a cached balance it is about to exhaust.
type BalanceCache interface {
	SetLockedBalance(ctx context.Context, root Address, asset AssetID, amount uint64) error
	GetLockedBalance(ctx context.Context, root Address, asset AssetID) (uint64, error)
	Invalidate(ctx context.Context, root Address, asset AssetID) error
}

// SignalBus publishes order lifecycle events (created, filled, cancelled,
// conflict) to interested subscribers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter provides distributed rate limiting for the API surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides advisory locking so one process does not race itself
// on a predicate root. It cannot prevent cross-process double spends; the
// ledger's single-consumption rule remains the arbiter.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
