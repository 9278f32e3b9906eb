package memledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillfi/orderlock/internal/crypto"
	"github.com/quillfi/orderlock/internal/domain"
)

func testAsset(b byte) domain.AssetID {
	var a domain.AssetID
	a[0] = b
	return a
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	keyHex, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(keyHex)
	require.NoError(t, err)
	return signer
}

func signedTransfer(t *testing.T, from *crypto.Signer, coin domain.Coin, to domain.Address) domain.Transaction {
	t.Helper()
	tx := domain.Transaction{
		Inputs:  []domain.Input{{Coin: coin}},
		Outputs: []domain.Output{{To: to, Asset: coin.Asset, Amount: coin.Amount}},
	}
	sig, err := from.Sign(crypto.TxDigest(tx))
	require.NoError(t, err)
	tx.Inputs[0].Witness = sig
	return tx
}

func TestSelectCoins_Insufficient(t *testing.T) {
	l := New()
	ctx := context.Background()
	owner := newSigner(t).Address()
	asset := testAsset(1)
	l.Mint(owner, asset, 100)

	_, err := l.SelectCoins(ctx, owner, asset, 101)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	coins, err := l.SelectCoins(ctx, owner, asset, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), domain.SumCoins(coins))
}

func TestSubmit_Transfer(t *testing.T) {
	l := New()
	ctx := context.Background()
	alice := newSigner(t)
	bob := newSigner(t).Address()
	asset := testAsset(1)
	coin := l.Mint(alice.Address(), asset, 500)

	id, err := l.Submit(ctx, signedTransfer(t, alice, coin, bob))
	require.NoError(t, err)

	receipt, err := l.AwaitInclusion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptStatusSuccess, receipt.Status)

	bal, err := l.Balance(ctx, bob, asset)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), bal)
}

func TestSubmit_DoubleSpendConflicts(t *testing.T) {
	l := New()
	ctx := context.Background()
	alice := newSigner(t)
	bob := newSigner(t).Address()
	carol := newSigner(t).Address()
	asset := testAsset(1)
	coin := l.Mint(alice.Address(), asset, 500)

	id1, err := l.Submit(ctx, signedTransfer(t, alice, coin, bob))
	require.NoError(t, err)
	r1, err := l.AwaitInclusion(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, domain.ReceiptStatusSuccess, r1.Status)

	// Same coin again: accepted into the ledger, rejected at commit.
	id2, err := l.Submit(ctx, signedTransfer(t, alice, coin, carol))
	require.NoError(t, err)
	r2, err := l.AwaitInclusion(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptStatusConflict, r2.Status)

	bal, err := l.Balance(ctx, carol, asset)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bal)
}

func TestSubmit_ForgedSignatureInvalid(t *testing.T) {
	l := New()
	ctx := context.Background()
	alice := newSigner(t)
	mallory := newSigner(t)
	asset := testAsset(1)
	coin := l.Mint(alice.Address(), asset, 500)

	// Mallory signs for Alice's coin.
	tx := signedTransfer(t, mallory, coin, mallory.Address())

	id, err := l.Submit(ctx, tx)
	require.NoError(t, err)
	receipt, err := l.AwaitInclusion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptStatusInvalid, receipt.Status)
}

func TestSubmit_ValueCreationInvalid(t *testing.T) {
	l := New()
	ctx := context.Background()
	alice := newSigner(t)
	asset := testAsset(1)
	coin := l.Mint(alice.Address(), asset, 500)

	tx := domain.Transaction{
		Inputs:  []domain.Input{{Coin: coin}},
		Outputs: []domain.Output{{To: alice.Address(), Asset: asset, Amount: 501}},
	}
	sig, err := alice.Sign(crypto.TxDigest(tx))
	require.NoError(t, err)
	tx.Inputs[0].Witness = sig

	id, err := l.Submit(ctx, tx)
	require.NoError(t, err)
	receipt, err := l.AwaitInclusion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptStatusInvalid, receipt.Status)
}

func TestAwaitInclusion_ContextExpiry(t *testing.T) {
	l := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var unknown domain.Hash
	unknown[0] = 0xff
	_, err := l.AwaitInclusion(ctx, unknown)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
