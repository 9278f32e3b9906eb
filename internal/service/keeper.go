package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quillfi/orderlock/internal/domain"
)

// keeperConcurrency bounds how many roots are reconciled in parallel.
const keeperConcurrency = 8

// Keeper periodically reconciles the bookkeeping against the ledger: it
// re-reads the locked balance of every open order, refreshes the balance
// cache, and closes orders whose roots have been drained by fills the
// process never saw.
type Keeper struct {
	provider domain.Provider
	orders   domain.OrderStore
	balances domain.BalanceCache
	makers   []domain.Address
	interval time.Duration
	logger   *slog.Logger
}

// NewKeeper creates a Keeper that reconciles the open orders of the given
// makers every interval.
func NewKeeper(
	provider domain.Provider,
	orders domain.OrderStore,
	balances domain.BalanceCache,
	makers []domain.Address,
	interval time.Duration,
	logger *slog.Logger,
) *Keeper {
	return &Keeper{
		provider: provider,
		orders:   orders,
		balances: balances,
		makers:   makers,
		interval: interval,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run reconciles on a ticker until the context is cancelled. A failed pass
// is logged and retried on the next tick; only context cancellation ends
// the loop.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.Info("keeper: starting",
		slog.Duration("interval", k.interval),
		slog.Int("makers", len(k.makers)),
	)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keeper: stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := k.Reconcile(ctx); err != nil {
				k.logger.Warn("keeper: reconcile pass failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Reconcile runs one reconciliation pass over all makers' open orders.
func (k *Keeper) Reconcile(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(keeperConcurrency)

	for _, maker := range k.makers {
		recs, err := k.orders.ListOpen(ctx, maker)
		if err != nil {
			return fmt.Errorf("keeper: list open orders for %s: %w", maker.Hex(), err)
		}
		for _, rec := range recs {
			rec := rec
			g.Go(func() error {
				return k.reconcileOrder(ctx, rec)
			})
		}
	}

	return g.Wait()
}

// reconcileOrder refreshes one order's cached balance and closes it when the
// root holds nothing.
func (k *Keeper) reconcileOrder(ctx context.Context, rec domain.OrderRecord) error {
	asset := rec.Descriptor().LockedAsset()

	bal, err := k.provider.Balance(ctx, rec.Root, asset)
	if err != nil {
		return fmt.Errorf("keeper: balance %s: %w", rec.Root.Hex(), err)
	}

	if cacheErr := k.balances.SetLockedBalance(ctx, rec.Root, asset, bal); cacheErr != nil {
		k.logger.Warn("keeper: balance cache update failed",
			slog.String("root", rec.Root.Hex()),
			slog.String("error", cacheErr.Error()),
		)
	}

	if bal == 0 {
		if err := k.orders.UpdateStatus(ctx, rec.Root, domain.OrderStatusClosed); err != nil {
			return fmt.Errorf("keeper: close drained order %s: %w", rec.Root.Hex(), err)
		}
		k.logger.Info("keeper: closed drained order",
			slog.String("root", rec.Root.Hex()),
		)
		return nil
	}

	if bal > 0 && rec.Status == domain.OrderStatusOpen && bal < rec.LockedAmount {
		if err := k.orders.UpdateStatus(ctx, rec.Root, domain.OrderStatusPartiallyFilled); err != nil {
			return fmt.Errorf("keeper: mark partial fill %s: %w", rec.Root.Hex(), err)
		}
	}
	return nil
}
