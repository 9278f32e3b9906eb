// Package service composes the assembler, settler, and supporting stores into
// the operator-facing order lifecycle: place, cancel, fulfill.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillfi/orderlock/internal/assembler"
	"github.com/quillfi/orderlock/internal/domain"
	"github.com/quillfi/orderlock/internal/fixedpoint"
	"github.com/quillfi/orderlock/internal/predicate"
	"github.com/quillfi/orderlock/internal/proxy"
	"github.com/quillfi/orderlock/internal/settle"
)

// eventChannel is the signal bus channel order lifecycle events go out on.
const eventChannel = "orders"

// lockTTL bounds how long one process may hold the advisory per-root lock.
const lockTTL = 30 * time.Second

// OrderService handles the order lifecycle. The ledger stays authoritative
// throughout: store rows, cached balances, and bus events are bookkeeping
// that trails what settlement actually did.
type OrderService struct {
	asm      *assembler.Assembler
	settler  *settle.Settler
	funder   *proxy.Funder
	provider domain.Provider
	orders   domain.OrderStore
	audit    domain.AuditStore
	balances domain.BalanceCache
	bus      domain.SignalBus
	locks    domain.LockManager
	logger   *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	asm *assembler.Assembler,
	settler *settle.Settler,
	funder *proxy.Funder,
	provider domain.Provider,
	orders domain.OrderStore,
	audit domain.AuditStore,
	balances domain.BalanceCache,
	bus domain.SignalBus,
	locks domain.LockManager,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		asm:      asm,
		settler:  settler,
		funder:   funder,
		provider: provider,
		orders:   orders,
		audit:    audit,
		balances: balances,
		bus:      bus,
		locks:    locks,
		logger:   logger.With(slog.String("component", "order_service")),
	}
}

// PlaceOrder derives the predicate root from the descriptor, locks amount of
// the locked asset under it, and records the order. Placing against terms
// that already have a funded root tops the existing order up.
func (s *OrderService) PlaceOrder(ctx context.Context, maker domain.Account, desc domain.OrderDescriptor, amount uint64) (domain.CreateOrderEvent, error) {
	if err := validateDescriptor(desc); err != nil {
		return domain.CreateOrderEvent{}, err
	}

	root := predicate.Root(desc)
	unlock, err := s.locks.Acquire(ctx, "order:"+root.Hex(), lockTTL)
	if err != nil {
		return domain.CreateOrderEvent{}, fmt.Errorf("order_service: place %s: %w", root.Hex(), err)
	}
	defer unlock()

	params := proxy.SendFundsToPredicateParams{
		PredicateRoot: root,
		Side:          desc.Side,
		QuoteAsset:    desc.QuoteAsset,
		BaseAsset:     desc.BaseAsset,
		QuoteDecimals: desc.QuoteDecimals,
		BaseDecimals:  desc.BaseDecimals,
		Maker:         desc.Maker,
		Price:         desc.Price,
		MinFillAmount: desc.MinFillAmount,
	}
	event, err := s.funder.SendFundsToPredicateRoot(ctx, maker, params, amount)
	if err != nil {
		return domain.CreateOrderEvent{}, fmt.Errorf("order_service: fund order: %w", err)
	}

	// Funds are locked; everything below is bookkeeping.
	_, err = s.orders.GetByRoot(ctx, root)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rec := domain.OrderRecord{
			Root:          root,
			Side:          desc.Side,
			QuoteAsset:    desc.QuoteAsset,
			BaseAsset:     desc.BaseAsset,
			QuoteDecimals: desc.QuoteDecimals,
			BaseDecimals:  desc.BaseDecimals,
			Maker:         desc.Maker,
			Price:         desc.Price,
			MinFillAmount: desc.MinFillAmount,
			LockedAmount:  amount,
			Status:        domain.OrderStatusOpen,
		}
		if err := s.orders.Create(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "order_service: record order failed",
				slog.String("root", root.Hex()),
				slog.String("error", err.Error()),
			)
		}
	case err != nil:
		s.logger.WarnContext(ctx, "order_service: read order record failed",
			slog.String("root", root.Hex()),
			slog.String("error", err.Error()),
		)
	default:
		if err := s.orders.AddLockedAmount(ctx, root, amount); err != nil {
			s.logger.WarnContext(ctx, "order_service: top-up bookkeeping failed",
				slog.String("root", root.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.refreshBalance(ctx, root, desc.LockedAsset())
	s.publish(ctx, map[string]string{
		"event": "order_placed",
		"id":    event.ID,
		"root":  root.Hex(),
		"side":  desc.Side.String(),
	})
	s.auditLog(ctx, "order_placed", map[string]any{
		"id":     event.ID,
		"root":   root.Hex(),
		"side":   desc.Side.String(),
		"amount": amount,
		"price":  desc.Price,
	})

	s.logger.InfoContext(ctx, "order_service: order placed",
		slog.String("root", root.Hex()),
		slog.String("side", desc.Side.String()),
		slog.Uint64("amount", amount),
	)
	return event, nil
}

// CancelOrder reclaims the order's entire locked balance for its maker.
func (s *OrderService) CancelOrder(ctx context.Context, maker domain.Account, root domain.Address) error {
	unlock, err := s.locks.Acquire(ctx, "order:"+root.Hex(), lockTTL)
	if err != nil {
		return fmt.Errorf("order_service: cancel %s: %w", root.Hex(), err)
	}
	defer unlock()

	rec, err := s.orders.GetByRoot(ctx, root)
	if err != nil {
		return fmt.Errorf("order_service: cancel %s: %w", root.Hex(), err)
	}
	desc := rec.Descriptor()

	order, err := s.settler.LockedOrderSnapshot(ctx, desc)
	if err != nil {
		return fmt.Errorf("order_service: snapshot %s: %w", root.Hex(), err)
	}

	tx, err := s.asm.CancelOrder(ctx, maker, order)
	if err != nil {
		return fmt.Errorf("order_service: assemble cancel: %w", err)
	}
	receipt, err := s.settler.Settle(ctx, tx)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.invalidateBalance(ctx, root, desc.LockedAsset())
		}
		return fmt.Errorf("order_service: settle cancel: %w", err)
	}

	if err := s.orders.UpdateStatus(ctx, root, domain.OrderStatusCancelled); err != nil {
		s.logger.WarnContext(ctx, "order_service: cancel bookkeeping failed",
			slog.String("root", root.Hex()),
			slog.String("error", err.Error()),
		)
	}
	s.invalidateBalance(ctx, root, desc.LockedAsset())
	s.publish(ctx, map[string]string{
		"event": "order_cancelled",
		"root":  root.Hex(),
		"tx":    receipt.TxID.Hex(),
	})
	s.auditLog(ctx, "order_cancelled", map[string]any{
		"root":   root.Hex(),
		"tx":     receipt.TxID.Hex(),
		"amount": order.Balance(),
	})

	s.logger.InfoContext(ctx, "order_service: order cancelled",
		slog.String("root", root.Hex()),
		slog.Uint64("amount", order.Balance()),
	)
	return nil
}

// FulfillOrder takes offeredAmount of the order's locked asset in exchange
// for the counter-asset at the order's price. The asked amount is computed
// with the same fixed-point arithmetic the predicate enforces, so a fill
// assembled against fresh state settles unless a competing spend wins the
// race; a lost race surfaces as domain.ErrConflict with nothing moved.
func (s *OrderService) FulfillOrder(ctx context.Context, taker domain.Account, root domain.Address, offeredAmount uint64) (domain.Receipt, error) {
	unlock, err := s.locks.Acquire(ctx, "order:"+root.Hex(), lockTTL)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("order_service: fulfill %s: %w", root.Hex(), err)
	}
	defer unlock()

	rec, err := s.orders.GetByRoot(ctx, root)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("order_service: fulfill %s: %w", root.Hex(), err)
	}
	desc := rec.Descriptor()

	asked, err := AskedAmount(desc, offeredAmount)
	if err != nil {
		return domain.Receipt{}, err
	}

	order, err := s.settler.LockedOrderSnapshot(ctx, desc)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("order_service: snapshot %s: %w", root.Hex(), err)
	}
	if order.Balance() == 0 {
		return domain.Receipt{}, fmt.Errorf("order_service: nothing locked at %s: %w", root.Hex(), domain.ErrOrderClosed)
	}

	tx, err := s.asm.FulfillOrder(ctx, taker, order, desc.Maker, desc.LockedAsset(), offeredAmount, desc.AskedAsset(), asked)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("order_service: assemble fulfill: %w", err)
	}

	receipt, err := s.settler.Settle(ctx, tx)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Someone else spent the coins first. Drop the cached balance so
			// the next attempt reads fresh state.
			s.invalidateBalance(ctx, root, desc.LockedAsset())
			s.publish(ctx, map[string]string{
				"event": "order_conflict",
				"root":  root.Hex(),
			})
		}
		return receipt, fmt.Errorf("order_service: settle fulfill: %w", err)
	}

	remaining, ok := s.refreshBalance(ctx, root, desc.LockedAsset())
	if ok {
		status := domain.OrderStatusPartiallyFilled
		if remaining == 0 {
			status = domain.OrderStatusClosed
		}
		if err := s.orders.UpdateStatus(ctx, root, status); err != nil {
			s.logger.WarnContext(ctx, "order_service: fill bookkeeping failed",
				slog.String("root", root.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publish(ctx, map[string]string{
		"event": "order_filled",
		"root":  root.Hex(),
		"tx":    receipt.TxID.Hex(),
	})
	s.auditLog(ctx, "order_filled", map[string]any{
		"root":      root.Hex(),
		"tx":        receipt.TxID.Hex(),
		"offered":   offeredAmount,
		"asked":     asked,
		"remaining": remaining,
	})

	s.logger.InfoContext(ctx, "order_service: order filled",
		slog.String("root", root.Hex()),
		slog.Uint64("offered", offeredAmount),
		slog.Uint64("remaining", remaining),
	)
	return receipt, nil
}

// Snapshot returns the live locked coin set for an order and refreshes the
// cached balance as a side effect.
func (s *OrderService) Snapshot(ctx context.Context, root domain.Address) (domain.LockedOrder, error) {
	rec, err := s.orders.GetByRoot(ctx, root)
	if err != nil {
		return domain.LockedOrder{}, fmt.Errorf("order_service: snapshot %s: %w", root.Hex(), err)
	}

	order, err := s.settler.LockedOrderSnapshot(ctx, rec.Descriptor())
	if err != nil {
		return domain.LockedOrder{}, fmt.Errorf("order_service: snapshot %s: %w", root.Hex(), err)
	}

	if cacheErr := s.balances.SetLockedBalance(ctx, root, rec.Descriptor().LockedAsset(), order.Balance()); cacheErr != nil {
		s.logger.WarnContext(ctx, "order_service: balance cache update failed",
			slog.String("root", root.Hex()),
			slog.String("error", cacheErr.Error()),
		)
	}
	return order, nil
}

// ListOpen returns the maker's open and partially filled orders.
func (s *OrderService) ListOpen(ctx context.Context, maker domain.Address) ([]domain.OrderRecord, error) {
	recs, err := s.orders.ListOpen(ctx, maker)
	if err != nil {
		return nil, fmt.Errorf("order_service: list open: %w", err)
	}
	return recs, nil
}

// AskedAmount computes the counter-asset payment the order's price requires
// for taking offeredAmount of the locked asset. It matches the predicate's
// own arithmetic, so paying exactly this amount satisfies the fill check.
func AskedAmount(d domain.OrderDescriptor, offeredAmount uint64) (uint64, error) {
	var asked uint64
	var err error
	if d.Side == domain.SideBuy {
		asked, err = fixedpoint.BaseForQuote(offeredAmount, d.Price, d.QuoteDecimals, d.BaseDecimals)
	} else {
		asked, err = fixedpoint.QuoteForBase(offeredAmount, d.Price, d.QuoteDecimals, d.BaseDecimals)
	}
	if err != nil {
		return 0, fmt.Errorf("order_service: asked amount: %w", err)
	}
	if asked == 0 {
		return 0, fmt.Errorf("order_service: fill of %d rounds to a zero payment: %w", offeredAmount, domain.ErrInvalidOrder)
	}
	return asked, nil
}

func validateDescriptor(d domain.OrderDescriptor) error {
	if d.QuoteAsset == (domain.AssetID{}) || d.BaseAsset == (domain.AssetID{}) {
		return fmt.Errorf("order_service: assets must be set: %w", domain.ErrInvalidOrder)
	}
	if d.QuoteAsset == d.BaseAsset {
		return fmt.Errorf("order_service: quote and base must differ: %w", domain.ErrInvalidOrder)
	}
	if d.Price == 0 {
		return fmt.Errorf("order_service: price must be positive: %w", domain.ErrInvalidOrder)
	}
	if d.Maker.IsZero() {
		return fmt.Errorf("order_service: maker must be set: %w", domain.ErrInvalidOrder)
	}
	return nil
}

// refreshBalance re-reads the locked balance from the ledger and caches it.
// ok is false when the provider could not be reached.
func (s *OrderService) refreshBalance(ctx context.Context, root domain.Address, asset domain.AssetID) (bal uint64, ok bool) {
	bal, err := s.provider.Balance(ctx, root, asset)
	if err != nil {
		s.logger.WarnContext(ctx, "order_service: balance refresh failed",
			slog.String("root", root.Hex()),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	if cacheErr := s.balances.SetLockedBalance(ctx, root, asset, bal); cacheErr != nil {
		s.logger.WarnContext(ctx, "order_service: balance cache update failed",
			slog.String("root", root.Hex()),
			slog.String("error", cacheErr.Error()),
		)
	}
	return bal, true
}

func (s *OrderService) invalidateBalance(ctx context.Context, root domain.Address, asset domain.AssetID) {
	if err := s.balances.Invalidate(ctx, root, asset); err != nil {
		s.logger.WarnContext(ctx, "order_service: balance invalidate failed",
			slog.String("root", root.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OrderService) publish(ctx context.Context, event map[string]string) {
	payload, _ := json.Marshal(event)
	if err := s.bus.Publish(ctx, eventChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "order_service: publish event failed",
			slog.String("event", event["event"]),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OrderService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "order_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
