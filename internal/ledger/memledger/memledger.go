// Package memledger is an in-memory UTXO ledger implementing domain.Provider.
// It enforces the same commit rules a real ledger would: every input must be
// unspent (a coin is consumed at most once), account inputs must carry their
// owner's signature, predicate inputs must satisfy their predicate, and no
// asset may be created out of thin air. It backs the test suite and local
// development.
package memledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quillfi/orderlock/internal/crypto"
	"github.com/quillfi/orderlock/internal/domain"
	"github.com/quillfi/orderlock/internal/predicate"
)

// Ledger holds the unspent coin set and the receipts of every submitted
// transaction. All methods are safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	coins    map[domain.UtxoID]domain.Coin
	receipts map[domain.Hash]domain.Receipt
	minted   uint64
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		coins:    make(map[domain.UtxoID]domain.Coin),
		receipts: make(map[domain.Hash]domain.Receipt),
	}
}

// Mint credits owner with a fresh coin, bypassing validation. Test and
// genesis use only.
func (l *Ledger) Mint(owner domain.Address, asset domain.AssetID, amount uint64) domain.Coin {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.minted++
	var txID domain.Hash
	copy(txID[:], fmt.Sprintf("mint-%d", l.minted))
	coin := domain.Coin{
		ID:     domain.UtxoID{TxID: txID, Index: 0},
		Asset:  asset,
		Amount: amount,
		Owner:  owner,
	}
	l.coins[coin.ID] = coin
	return coin
}

// SelectCoins returns unspent coins owned by owner of the given asset
// totaling at least amount, greedily and in deterministic order. It returns
// domain.ErrInsufficientFunds when the owner cannot cover the amount.
func (l *Ledger) SelectCoins(ctx context.Context, owner domain.Address, asset domain.AssetID, amount uint64) ([]domain.Coin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var candidates []domain.Coin
	for _, c := range l.coins {
		if c.Owner == owner && c.Asset == asset {
			candidates = append(candidates, c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID.String() < candidates[j].ID.String()
	})

	var selected []domain.Coin
	var total uint64
	for _, c := range candidates {
		selected = append(selected, c)
		total += c.Amount
		if total >= amount {
			return selected, nil
		}
	}
	return nil, fmt.Errorf("memledger: %s holds %d of %s, need %d: %w",
		owner.Hex(), total, asset.Hex(), amount, domain.ErrInsufficientFunds)
}

// Balance returns the total unspent amount of asset held by owner.
func (l *Ledger) Balance(ctx context.Context, owner domain.Address, asset domain.AssetID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var total uint64
	for _, c := range l.coins {
		if c.Owner == owner && c.Asset == asset {
			total += c.Amount
		}
	}
	return total, nil
}

// Submit validates and commits the transaction atomically. The verdict is
// recorded as a receipt retrievable via AwaitInclusion; Submit itself only
// fails on malformed transactions. Competitors racing for the same coin are
// serialized here: the first commit wins, later ones receive a conflict
// receipt.
func (l *Ledger) Submit(ctx context.Context, tx domain.Transaction) (domain.Hash, error) {
	if err := ctx.Err(); err != nil {
		return domain.Hash{}, err
	}
	if len(tx.Inputs) == 0 {
		return domain.Hash{}, fmt.Errorf("memledger: transaction has no inputs")
	}

	id := crypto.TxDigest(tx)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.receipts[id]; dup {
		return id, nil
	}

	receipt := l.validate(id, tx)
	if receipt.Status == domain.ReceiptStatusSuccess {
		l.apply(id, tx, &receipt)
	}
	receipt.IncludedAt = time.Now().UTC()
	l.receipts[id] = receipt
	return id, nil
}

// AwaitInclusion returns the receipt for id, waiting until it appears or the
// context expires.
func (l *Ledger) AwaitInclusion(ctx context.Context, id domain.Hash) (domain.Receipt, error) {
	for {
		l.mu.Lock()
		r, ok := l.receipts[id]
		l.mu.Unlock()
		if ok {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// validate applies the commit rules without mutating state.
func (l *Ledger) validate(id domain.Hash, tx domain.Transaction) domain.Receipt {
	digest := crypto.TxDigest(tx)

	inTotals := make(map[domain.AssetID]uint64)
	seen := make(map[domain.UtxoID]bool)
	for _, in := range tx.Inputs {
		current, ok := l.coins[in.Coin.ID]
		if !ok || seen[in.Coin.ID] {
			return domain.Receipt{
				TxID:   id,
				Status: domain.ReceiptStatusConflict,
				Detail: fmt.Sprintf("input %s already spent", in.Coin.ID),
			}
		}
		seen[in.Coin.ID] = true
		if current != in.Coin {
			return domain.Receipt{
				TxID:   id,
				Status: domain.ReceiptStatusInvalid,
				Detail: fmt.Sprintf("input %s does not match ledger state", in.Coin.ID),
			}
		}

		if in.IsPredicate() {
			if predicate.Root(*in.Descriptor) != in.Coin.Owner {
				return domain.Receipt{
					TxID:   id,
					Status: domain.ReceiptStatusInvalid,
					Detail: fmt.Sprintf("descriptor root does not match owner of %s", in.Coin.ID),
				}
			}
		} else {
			signer, err := crypto.RecoverSigner(digest, in.Witness)
			if err != nil || signer != in.Coin.Owner {
				return domain.Receipt{
					TxID:   id,
					Status: domain.ReceiptStatusInvalid,
					Detail: fmt.Sprintf("input %s lacks a valid owner signature", in.Coin.ID),
				}
			}
		}
		inTotals[in.Coin.Asset] += in.Coin.Amount
	}

	outTotals := make(map[domain.AssetID]uint64)
	for _, out := range tx.Outputs {
		outTotals[out.Asset] += out.Amount
	}
	for asset, outSum := range outTotals {
		if outSum > inTotals[asset] {
			return domain.Receipt{
				TxID:   id,
				Status: domain.ReceiptStatusInvalid,
				Detail: fmt.Sprintf("outputs of %s exceed inputs (%d > %d)", asset.Hex(), outSum, inTotals[asset]),
			}
		}
	}

	// Each distinct predicate validates once over the whole transaction.
	validated := make(map[domain.Address]bool)
	for _, in := range tx.Inputs {
		if !in.IsPredicate() || validated[in.Coin.Owner] {
			continue
		}
		validated[in.Coin.Owner] = true
		if err := predicate.Validate(*in.Descriptor, tx); err != nil {
			return domain.Receipt{
				TxID:   id,
				Status: domain.ReceiptStatusPredicateRejected,
				Detail: err.Error(),
			}
		}
	}

	return domain.Receipt{TxID: id, Status: domain.ReceiptStatusSuccess}
}

// apply consumes the inputs and creates the outputs.
func (l *Ledger) apply(id domain.Hash, tx domain.Transaction, receipt *domain.Receipt) {
	for _, in := range tx.Inputs {
		delete(l.coins, in.Coin.ID)
		receipt.Spent = append(receipt.Spent, in.Coin.ID)
	}
	for i, out := range tx.Outputs {
		if out.Amount == 0 {
			continue
		}
		coin := domain.Coin{
			ID:     domain.UtxoID{TxID: id, Index: uint16(i)},
			Asset:  out.Asset,
			Amount: out.Amount,
			Owner:  out.To,
		}
		l.coins[coin.ID] = coin
		receipt.Created = append(receipt.Created, coin)
	}
}

var _ domain.Provider = (*Ledger)(nil)
