package settle

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillfi/orderlock/internal/crypto"
	"github.com/quillfi/orderlock/internal/domain"
)

// stubProvider scripts Submit/AwaitInclusion outcomes.
type stubProvider struct {
	submitErrs []error // consumed one per Submit call before success
	submits    int
	receipt    domain.Receipt
	included   map[domain.Hash]domain.Receipt
}

func (s *stubProvider) SelectCoins(ctx context.Context, owner domain.Address, asset domain.AssetID, amount uint64) ([]domain.Coin, error) {
	return nil, domain.ErrInsufficientFunds
}

func (s *stubProvider) Balance(ctx context.Context, owner domain.Address, asset domain.AssetID) (uint64, error) {
	return 0, nil
}

func (s *stubProvider) Submit(ctx context.Context, tx domain.Transaction) (domain.Hash, error) {
	s.submits++
	if len(s.submitErrs) > 0 {
		err := s.submitErrs[0]
		s.submitErrs = s.submitErrs[1:]
		return domain.Hash{}, err
	}
	id := crypto.TxDigest(tx)
	s.receipt.TxID = id
	return id, nil
}

func (s *stubProvider) AwaitInclusion(ctx context.Context, id domain.Hash) (domain.Receipt, error) {
	if r, ok := s.included[id]; ok {
		return r, nil
	}
	if s.receipt.TxID == id {
		return s.receipt, nil
	}
	<-ctx.Done()
	return domain.Receipt{}, ctx.Err()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTx() domain.Transaction {
	var coin domain.Coin
	coin.Amount = 1
	return domain.Transaction{Inputs: []domain.Input{{Coin: coin}}, Nonce: 42}
}

func TestSettle_Success(t *testing.T) {
	p := &stubProvider{receipt: domain.Receipt{Status: domain.ReceiptStatusSuccess}}
	s := New(p, discardLogger())

	receipt, err := s.Settle(context.Background(), testTx())
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptStatusSuccess, receipt.Status)
	assert.Equal(t, 1, p.submits)
}

func TestSettle_ConflictSurfaced(t *testing.T) {
	p := &stubProvider{receipt: domain.Receipt{
		Status: domain.ReceiptStatusConflict,
		Detail: "input already spent",
	}}
	s := New(p, discardLogger())

	_, err := s.Settle(context.Background(), testTx())
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestSettle_PredicateRejectionCarriesDetail(t *testing.T) {
	p := &stubProvider{receipt: domain.Receipt{
		Status: domain.ReceiptStatusPredicateRejected,
		Detail: "predicate: fill 10 below minimum 500",
	}}
	s := New(p, discardLogger())

	_, err := s.Settle(context.Background(), testTx())
	require.ErrorIs(t, err, domain.ErrPredicateRejected)
	assert.Contains(t, err.Error(), "below minimum 500")
}

func TestSettle_RetriesTransientSubmitFailure(t *testing.T) {
	p := &stubProvider{
		submitErrs: []error{domain.ErrProviderUnavailable, domain.ErrProviderUnavailable},
		receipt:    domain.Receipt{Status: domain.ReceiptStatusSuccess},
	}
	s := New(p, discardLogger())
	s.backoff = 1 // keep the test fast

	receipt, err := s.Settle(context.Background(), testTx())
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptStatusSuccess, receipt.Status)
	assert.Equal(t, 3, p.submits)
}

func TestSettle_NoBlindResubmitWhenAlreadyIncluded(t *testing.T) {
	// First submit "fails" on the wire but the transaction landed anyway.
	tx := testTx()
	id := crypto.TxDigest(tx)
	p := &stubProvider{
		submitErrs: []error{domain.ErrProviderUnavailable},
		included: map[domain.Hash]domain.Receipt{
			id: {TxID: id, Status: domain.ReceiptStatusSuccess},
		},
	}
	s := New(p, discardLogger())
	s.backoff = 1

	receipt, err := s.Settle(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptStatusSuccess, receipt.Status)
	// One failed submit, then the inclusion check found it; no resubmission.
	assert.Equal(t, 1, p.submits)
}

func TestSettle_PermanentSubmitFailure(t *testing.T) {
	p := &stubProvider{submitErrs: []error{
		domain.ErrProviderUnavailable,
		domain.ErrProviderUnavailable,
		domain.ErrProviderUnavailable,
		domain.ErrProviderUnavailable,
	}}
	s := New(p, discardLogger())
	s.backoff = 1
	s.maxRetries = 2

	_, err := s.Settle(context.Background(), testTx())
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, 3, p.submits)
}
