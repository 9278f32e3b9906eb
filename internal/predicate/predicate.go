// Package predicate implements the spending condition that guards locked
// order funds: deterministic root derivation from an order descriptor, and
// the pure validation function deciding whether a proposed transaction may
// spend coins held at that root.
//
// A spend is authorized on exactly two paths:
//
//   - cancel: the entire locked balance returns to the maker, and the
//     spend is signed by the maker;
//   - fill: the maker is paid the counter-asset at the descriptor's price
//     for whatever portion of the locked balance leaves the root, and the
//     portion respects the minimum fill unless it exhausts the order.
package predicate

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/quillfi/orderlock/internal/crypto"
	"github.com/quillfi/orderlock/internal/domain"
	"github.com/quillfi/orderlock/internal/fixedpoint"
)

// rootDomainTag versions the root derivation. Changing any descriptor field
// or this tag yields a different root, and therefore a different order.
const rootDomainTag = "orderlock/predicate/v1"

// Root derives the predicate root address from the descriptor's canonical
// encoding. The derivation is deterministic: the same terms always lock
// funds under the same address, so repeated creates simply aggregate coins.
func Root(d domain.OrderDescriptor) domain.Address {
	var a domain.Address
	copy(a[:], ethcrypto.Keccak256([]byte(rootDomainTag), d.Encode()))
	return a
}

// Validate reports whether tx may spend the predicate's coins. A nil return
// authorizes the spend; the error describes the violated rule and ends up
// in the rejection receipt's detail.
func Validate(d domain.OrderDescriptor, tx domain.Transaction) error {
	root := Root(d)
	locked := d.LockedAsset()

	var lockedIn uint64
	var witness []byte
	for _, in := range tx.Inputs {
		if in.Coin.Owner != root {
			continue
		}
		if in.Coin.Asset != locked {
			return fmt.Errorf("predicate: input spends %s, order locks %s", in.Coin.Asset.Hex(), locked.Hex())
		}
		lockedIn += in.Coin.Amount
		if len(in.Witness) > 0 {
			witness = in.Witness
		}
	}
	if lockedIn == 0 {
		return fmt.Errorf("predicate: no locked coins consumed")
	}

	returned := tx.OutputsTo(root, locked)
	if returned > lockedIn {
		return fmt.Errorf("predicate: change %d exceeds locked input %d", returned, lockedIn)
	}
	taken := lockedIn - returned
	if taken == 0 {
		return fmt.Errorf("predicate: spend moves no locked value")
	}

	// Cancel path: full restitution to the maker, signed by the maker.
	if tx.OutputsTo(d.Maker, locked) >= taken {
		if returned != 0 {
			return fmt.Errorf("predicate: cancel must reclaim the entire locked balance")
		}
		if err := verifyMaker(d, tx, witness); err != nil {
			return err
		}
		return nil
	}

	// Fill path: the maker must receive the counter-asset at the order's
	// price for the portion taken.
	required, err := requiredPayment(d, taken)
	if err != nil {
		return err
	}
	paid := tx.OutputsTo(d.Maker, d.AskedAsset())
	if paid < required {
		return fmt.Errorf("predicate: maker paid %d of asked asset, price requires %d", paid, required)
	}

	// Minimum fill floor, waived only for the fill that exhausts the order.
	// The exhaustion check compares against the coins the spend consumes,
	// so a fill must consume the root's entire coin set for the waiver to
	// mean what it says; the assembler always does.
	if taken < d.MinFillAmount && taken != lockedIn {
		return fmt.Errorf("predicate: fill %d below minimum %d", taken, d.MinFillAmount)
	}

	return nil
}

// requiredPayment computes how much of the asked asset the maker must
// receive when taken units of the locked asset leave the root.
func requiredPayment(d domain.OrderDescriptor, taken uint64) (uint64, error) {
	var required uint64
	var err error
	if d.Side == domain.SideBuy {
		// Quote locked; maker is owed base for the quote taken.
		required, err = fixedpoint.BaseForQuote(taken, d.Price, d.QuoteDecimals, d.BaseDecimals)
	} else {
		// Base locked; maker is owed quote for the base taken.
		required, err = fixedpoint.QuoteForBase(taken, d.Price, d.QuoteDecimals, d.BaseDecimals)
	}
	if err != nil {
		return 0, fmt.Errorf("predicate: %w", err)
	}
	return required, nil
}

// verifyMaker checks that the predicate input's witness is the maker's
// signature over the transaction digest.
func verifyMaker(d domain.OrderDescriptor, tx domain.Transaction, witness []byte) error {
	if len(witness) == 0 {
		return fmt.Errorf("predicate: cancel requires the maker's signature: %w", domain.ErrUnauthorized)
	}
	signer, err := crypto.RecoverSigner(crypto.TxDigest(tx), witness)
	if err != nil {
		return fmt.Errorf("predicate: cancel witness: %w", domain.ErrUnauthorized)
	}
	if signer != d.Maker {
		return fmt.Errorf("predicate: cancel signed by %s, maker is %s: %w", signer.Hex(), d.Maker.Hex(), domain.ErrUnauthorized)
	}
	return nil
}
