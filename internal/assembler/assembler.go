// Package assembler builds the three transaction shapes of the order
// lifecycle: create, cancel, and fulfill (full or partial). It selects
// inputs, computes outputs, and returns a signed transaction ready for
// submission. It performs no price validation itself; the predicate is the
// authority, and a correct caller computes the asked amount with the
// fixedpoint helpers to avoid a rejected transaction.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillfi/orderlock/internal/domain"
)

// Assembler derives input/output sets against the current ledger state.
type Assembler struct {
	provider domain.Provider
	logger   *slog.Logger
}

// New creates an Assembler reading ledger state through provider.
func New(provider domain.Provider, logger *slog.Logger) *Assembler {
	return &Assembler{
		provider: provider,
		logger:   logger.With(slog.String("component", "assembler")),
	}
}

// CreateOrder locks amount of asset under the predicate root. Inputs are the
// maker's coins totaling at least amount; outputs are the locked coin plus
// change back to the maker for any excess selected. Creating twice against
// the same root aggregates: the locked amounts simply sum.
func (a *Assembler) CreateOrder(ctx context.Context, maker domain.Account, root domain.Address, asset domain.AssetID, amount uint64) (domain.Transaction, error) {
	if amount == 0 {
		return domain.Transaction{}, fmt.Errorf("assembler: create amount must be positive: %w", domain.ErrInvalidOrder)
	}
	if root.IsZero() {
		return domain.Transaction{}, fmt.Errorf("assembler: predicate root must not be zero: %w", domain.ErrInvalidOrder)
	}

	coins, err := maker.SelectCoins(ctx, asset, amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("assembler: select maker coins: %w", err)
	}

	tx := domain.Transaction{Nonce: nonce()}
	for _, c := range coins {
		tx.Inputs = append(tx.Inputs, domain.Input{Coin: c})
	}
	tx.Outputs = append(tx.Outputs, domain.Output{To: root, Asset: asset, Amount: amount})
	if change := domain.SumCoins(coins) - amount; change > 0 {
		tx.Outputs = append(tx.Outputs, domain.Output{To: maker.Address(), Asset: asset, Amount: change})
	}

	if err := maker.SignTransaction(&tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("assembler: sign create: %w", err)
	}

	a.logger.Debug("assembler: create assembled",
		slog.String("root", root.Hex()),
		slog.Uint64("amount", amount),
		slog.Int("inputs", len(tx.Inputs)),
	)
	return tx, nil
}

// CancelOrder reclaims the order's entire locked balance for the maker.
// Inputs are the predicate's full unspent coin set of the locked asset;
// the single output returns everything to the maker. There is no partial
// cancel. The maker account signs so the predicate can verify the
// cancellation is authorized.
func (a *Assembler) CancelOrder(ctx context.Context, maker domain.Account, order domain.LockedOrder) (domain.Transaction, error) {
	asset := order.Descriptor.LockedAsset()

	balance, err := a.provider.Balance(ctx, order.Root, asset)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("assembler: read locked balance: %w", err)
	}
	if balance == 0 {
		return domain.Transaction{}, fmt.Errorf("assembler: nothing locked at %s: %w", order.Root.Hex(), domain.ErrOrderClosed)
	}

	coins, err := a.provider.SelectCoins(ctx, order.Root, asset, balance)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("assembler: select locked coins: %w", err)
	}

	desc := order.Descriptor
	tx := domain.Transaction{Nonce: nonce()}
	for _, c := range coins {
		tx.Inputs = append(tx.Inputs, domain.Input{Coin: c, Descriptor: &desc})
	}
	tx.Outputs = append(tx.Outputs, domain.Output{To: desc.Maker, Asset: asset, Amount: domain.SumCoins(coins)})

	if err := maker.SignTransaction(&tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("assembler: sign cancel: %w", err)
	}

	a.logger.Debug("assembler: cancel assembled",
		slog.String("root", order.Root.Hex()),
		slog.Uint64("amount", balance),
	)
	return tx, nil
}

// FulfillOrder exchanges askedAmount of the taker's askedAsset for
// offeredAmount of the order's locked offeredAsset. The fill consumes the
// predicate's entire coin set of the locked asset, so the predicate judges
// the minimum-fill floor against the order's true remaining balance rather
// than whichever coins a narrower selection happened to pull. Whatever
// portion of the balance is not paid out returns to the predicate root as
// an explicit change output, which is how a partial fill leaves the
// remainder locked under the same terms.
func (a *Assembler) FulfillOrder(
	ctx context.Context,
	taker domain.Account,
	order domain.LockedOrder,
	makerAddress domain.Address,
	offeredAsset domain.AssetID,
	offeredAmount uint64,
	askedAsset domain.AssetID,
	askedAmount uint64,
) (domain.Transaction, error) {
	if offeredAmount == 0 || askedAmount == 0 {
		return domain.Transaction{}, fmt.Errorf("assembler: fulfill amounts must be positive: %w", domain.ErrInvalidOrder)
	}

	balance, err := a.provider.Balance(ctx, order.Root, offeredAsset)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("assembler: read locked balance: %w", err)
	}
	if balance < offeredAmount {
		return domain.Transaction{}, fmt.Errorf("assembler: locked balance %d below offered amount %d: %w", balance, offeredAmount, domain.ErrInsufficientFunds)
	}
	predicateCoins, err := a.provider.SelectCoins(ctx, order.Root, offeredAsset, balance)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("assembler: select locked coins: %w", err)
	}

	takerCoins, err := taker.SelectCoins(ctx, askedAsset, askedAmount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("assembler: select taker coins: %w", err)
	}

	desc := order.Descriptor
	tx := domain.Transaction{Nonce: nonce()}
	for _, c := range predicateCoins {
		tx.Inputs = append(tx.Inputs, domain.Input{Coin: c, Descriptor: &desc})
	}
	for _, c := range takerCoins {
		tx.Inputs = append(tx.Inputs, domain.Input{Coin: c})
	}

	// Asked coin from the taker to the maker.
	tx.Outputs = append(tx.Outputs, domain.Output{To: makerAddress, Asset: askedAsset, Amount: askedAmount})
	// Offered coin from the predicate to the taker.
	tx.Outputs = append(tx.Outputs, domain.Output{To: taker.Address(), Asset: offeredAsset, Amount: offeredAmount})
	// Change for unspent asked asset.
	if change := domain.SumCoins(takerCoins) - askedAmount; change > 0 {
		tx.Outputs = append(tx.Outputs, domain.Output{To: taker.Address(), Asset: askedAsset, Amount: change})
	}
	// Remainder stays locked under the same root.
	if remainder := domain.SumCoins(predicateCoins) - offeredAmount; remainder > 0 {
		tx.Outputs = append(tx.Outputs, domain.Output{To: order.Root, Asset: offeredAsset, Amount: remainder})
	}

	if err := taker.SignTransaction(&tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("assembler: sign fulfill: %w", err)
	}

	a.logger.Debug("assembler: fulfill assembled",
		slog.String("root", order.Root.Hex()),
		slog.Uint64("offered", offeredAmount),
		slog.Uint64("asked", askedAmount),
	)
	return tx, nil
}

// nonce disambiguates otherwise-identical transactions assembled in the
// same process.
func nonce() uint64 {
	return uint64(time.Now().UnixNano())
}
