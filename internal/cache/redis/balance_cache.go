package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quillfi/orderlock/internal/domain"
)

// balanceTTL bounds how stale a cached balance can get before a reader is
// forced back to the ledger.
const balanceTTL = 30 * time.Second

// BalanceCache implements domain.BalanceCache using Redis string keys. Each
// entry holds the last observed sum of unspent coins at a predicate root for
// one asset. A settlement conflict invalidates the entry so the next reader
// goes back to the ledger.
type BalanceCache struct {
	rdb *redis.Client
}

// NewBalanceCache creates a BalanceCache backed by the given Client.
func NewBalanceCache(c *Client) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying()}
}

func balanceKey(root domain.Address, asset domain.AssetID) string {
	return "balance:" + root.Hex() + ":" + asset.Hex()
}

// SetLockedBalance records the observed locked balance for a root and asset.
func (bc *BalanceCache) SetLockedBalance(ctx context.Context, root domain.Address, asset domain.AssetID, amount uint64) error {
	key := balanceKey(root, asset)
	if err := bc.rdb.Set(ctx, key, strconv.FormatUint(amount, 10), balanceTTL).Err(); err != nil {
		return fmt.Errorf("redis: set locked balance %s: %w", root.Hex(), err)
	}
	return nil
}

// GetLockedBalance returns the cached locked balance for a root and asset.
// It returns domain.ErrNotFound when no entry exists or it has expired.
func (bc *BalanceCache) GetLockedBalance(ctx context.Context, root domain.Address, asset domain.AssetID) (uint64, error) {
	key := balanceKey(root, asset)
	val, err := bc.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get locked balance %s: %w", root.Hex(), err)
	}

	amount, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse locked balance %s: %w", root.Hex(), err)
	}
	return amount, nil
}

// Invalidate drops the cached balance for a root and asset.
func (bc *BalanceCache) Invalidate(ctx context.Context, root domain.Address, asset domain.AssetID) error {
	key := balanceKey(root, asset)
	if err := bc.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: invalidate locked balance %s: %w", root.Hex(), err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
