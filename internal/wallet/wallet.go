// Package wallet implements domain.Account over a ledger provider and a
// secp256k1 signer.
package wallet

import (
	"context"
	"fmt"

	"github.com/quillfi/orderlock/internal/crypto"
	"github.com/quillfi/orderlock/internal/domain"
)

// Wallet is a coin-holding account: it selects its own unspent coins from
// the ledger and signs the transactions that consume them.
type Wallet struct {
	signer   *crypto.Signer
	provider domain.Provider
}

// New creates a Wallet around an existing signer.
func New(signer *crypto.Signer, provider domain.Provider) *Wallet {
	return &Wallet{signer: signer, provider: provider}
}

// FromKeyConfig resolves a private key from cfg (raw hex or encrypted key
// file) and returns the wallet for it.
func FromKeyConfig(cfg crypto.KeyConfig, provider domain.Provider) (*Wallet, error) {
	keyHex, err := crypto.LoadKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("wallet: load key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	return New(signer, provider), nil
}

// Address is where the wallet receives funds and change.
func (w *Wallet) Address() domain.Address {
	return w.signer.Address()
}

// SelectCoins picks unspent coins of asset totaling at least amount.
func (w *Wallet) SelectCoins(ctx context.Context, asset domain.AssetID, amount uint64) ([]domain.Coin, error) {
	coins, err := w.provider.SelectCoins(ctx, w.Address(), asset, amount)
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	return coins, nil
}

// Balance returns the wallet's unspent total of asset.
func (w *Wallet) Balance(ctx context.Context, asset domain.AssetID) (uint64, error) {
	bal, err := w.provider.Balance(ctx, w.Address(), asset)
	if err != nil {
		return 0, fmt.Errorf("wallet: %w", err)
	}
	return bal, nil
}

// SignTransaction fills the Witness of every input this wallet is
// responsible for: coins it owns directly, and predicate coins whose order
// names it as maker (the signature a predicate requires to authorize a
// cancellation).
func (w *Wallet) SignTransaction(tx *domain.Transaction) error {
	digest := crypto.TxDigest(*tx)
	sig, err := w.signer.Sign(digest)
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}

	signed := 0
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		switch {
		case !in.IsPredicate() && in.Coin.Owner == w.Address():
			in.Witness = sig
			signed++
		case in.IsPredicate() && in.Descriptor.Maker == w.Address():
			in.Witness = sig
			signed++
		}
	}
	if signed == 0 {
		return fmt.Errorf("wallet: transaction has no inputs for %s", w.Address().Hex())
	}
	return nil
}

var _ domain.Account = (*Wallet)(nil)
