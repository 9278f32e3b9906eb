// Package proxy provides the one-call order funding helper: derive the
// predicate root from the order terms, move the maker's funds under it, and
// emit a creation event once the transfer settles.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quillfi/orderlock/internal/assembler"
	"github.com/quillfi/orderlock/internal/domain"
	"github.com/quillfi/orderlock/internal/predicate"
	"github.com/quillfi/orderlock/internal/settle"
)

// SendFundsToPredicateParams bundles the order terms for a funding call. The
// predicate root is carried alongside the terms so the helper can verify the
// caller derived it from the same descriptor it is about to fund.
type SendFundsToPredicateParams struct {
	PredicateRoot domain.Address
	Side          domain.OrderSide
	QuoteAsset    domain.AssetID
	BaseAsset     domain.AssetID
	QuoteDecimals uint32
	BaseDecimals  uint32
	Maker         domain.Address
	Price         uint64
	MinFillAmount uint64
}

// Descriptor returns the order descriptor the params describe.
func (p SendFundsToPredicateParams) Descriptor() domain.OrderDescriptor {
	return domain.OrderDescriptor{
		Side:          p.Side,
		QuoteAsset:    p.QuoteAsset,
		BaseAsset:     p.BaseAsset,
		QuoteDecimals: p.QuoteDecimals,
		BaseDecimals:  p.BaseDecimals,
		Maker:         p.Maker,
		Price:         p.Price,
		MinFillAmount: p.MinFillAmount,
	}
}

// Funder moves maker funds under predicate roots.
type Funder struct {
	asm     *assembler.Assembler
	settler *settle.Settler
	logger  *slog.Logger
}

// NewFunder creates a Funder.
func NewFunder(asm *assembler.Assembler, settler *settle.Settler, logger *slog.Logger) *Funder {
	return &Funder{
		asm:     asm,
		settler: settler,
		logger:  logger.With(slog.String("component", "proxy")),
	}
}

// SendFundsToPredicateRoot locks amount of the order's locked asset under the
// params' predicate root and waits for settlement. Funding the same root
// twice aggregates the locked balance. It returns the creation event on
// success.
func (f *Funder) SendFundsToPredicateRoot(ctx context.Context, maker domain.Account, params SendFundsToPredicateParams, amount uint64) (domain.CreateOrderEvent, error) {
	desc := params.Descriptor()

	root := predicate.Root(desc)
	if root != params.PredicateRoot {
		return domain.CreateOrderEvent{}, fmt.Errorf("proxy: predicate root %s does not match order terms: %w",
			params.PredicateRoot.Hex(), domain.ErrInvalidOrder)
	}
	if maker.Address() != desc.Maker {
		return domain.CreateOrderEvent{}, fmt.Errorf("proxy: funding account is not the maker: %w", domain.ErrUnauthorized)
	}

	asset := desc.LockedAsset()
	tx, err := f.asm.CreateOrder(ctx, maker, root, asset, amount)
	if err != nil {
		return domain.CreateOrderEvent{}, fmt.Errorf("proxy: assemble funding: %w", err)
	}

	receipt, err := f.settler.Settle(ctx, tx)
	if err != nil {
		return domain.CreateOrderEvent{}, fmt.Errorf("proxy: settle funding: %w", err)
	}

	event := domain.CreateOrderEvent{
		ID:        uuid.New().String(),
		Root:      root,
		Asset:     asset,
		Amount:    amount,
		Price:     desc.Price,
		Maker:     desc.Maker,
		Timestamp: receipt.IncludedAt,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	f.logger.Info("proxy: order funded",
		slog.String("root", root.Hex()),
		slog.Uint64("amount", amount),
		slog.String("tx", receipt.TxID.Hex()),
	)
	return event, nil
}
