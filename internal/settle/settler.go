// Package settle wraps assembler output: it submits transactions to the
// ledger, waits for inclusion, classifies rejections, and reports the
// resulting coin state. Losing a double-spend race surfaces as a distinct
// domain.ErrConflict so callers can re-read order state and retry with an
// adjusted fill; no retry happens here except for transient provider
// failures, and never without first checking whether the transaction
// already landed.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillfi/orderlock/internal/crypto"
	"github.com/quillfi/orderlock/internal/domain"
	"github.com/quillfi/orderlock/internal/predicate"
)

// ReceiptArchiver persists settlement receipts out of band. Optional.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, receipt domain.Receipt) error
}

// Settler submits transactions and settles their outcome.
type Settler struct {
	provider         domain.Provider
	archiver         ReceiptArchiver
	logger           *slog.Logger
	maxRetries       int
	backoff          time.Duration
	inclusionTimeout time.Duration
}

// New creates a Settler. Transient submission failures are retried up to
// three times with linear backoff.
func New(provider domain.Provider, logger *slog.Logger) *Settler {
	return &Settler{
		provider:   provider,
		logger:     logger.With(slog.String("component", "settle")),
		maxRetries: 3,
		backoff:    250 * time.Millisecond,
	}
}

// WithArchiver attaches a receipt archiver. Archival failures are logged,
// never surfaced: the settlement outcome does not depend on them.
func (s *Settler) WithArchiver(a ReceiptArchiver) *Settler {
	s.archiver = a
	return s
}

// WithRetryPolicy overrides the transient-failure retry count and backoff.
func (s *Settler) WithRetryPolicy(maxRetries int, backoff time.Duration) *Settler {
	s.maxRetries = maxRetries
	s.backoff = backoff
	return s
}

// WithInclusionTimeout bounds how long Settle waits for a receipt. Zero
// means no bound beyond the caller's context.
func (s *Settler) WithInclusionTimeout(d time.Duration) *Settler {
	s.inclusionTimeout = d
	return s
}

// Settle submits tx, waits for its inclusion, and returns the receipt.
// Error mapping:
//   - domain.ErrConflict: an input coin was consumed by a competitor;
//     re-read state before retrying with fresh amounts.
//   - domain.ErrPredicateRejected: the predicate's check failed; the raw
//     receipt detail is attached for diagnosis.
//   - domain.ErrProviderUnavailable: submission could not reach the ledger
//     even after retries.
//
// A context expiry while awaiting inclusion leaves the attempt
// indeterminate; callers must re-query state before acting again.
func (s *Settler) Settle(ctx context.Context, tx domain.Transaction) (domain.Receipt, error) {
	id, err := s.submitWithRetry(ctx, tx)
	if err != nil {
		return domain.Receipt{}, err
	}

	waitCtx := ctx
	if s.inclusionTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.inclusionTimeout)
		defer cancel()
	}

	receipt, err := s.provider.AwaitInclusion(waitCtx, id)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("settle: awaiting inclusion of %s (outcome indeterminate, re-query before retrying): %w", id.Hex(), err)
	}

	if s.archiver != nil {
		if archErr := s.archiver.ArchiveReceipt(ctx, receipt); archErr != nil {
			s.logger.Warn("settle: receipt archive failed",
				slog.String("tx_id", id.Hex()),
				slog.String("error", archErr.Error()),
			)
		}
	}

	switch receipt.Status {
	case domain.ReceiptStatusSuccess:
		s.logger.Info("settle: transaction included",
			slog.String("tx_id", id.Hex()),
			slog.Int("spent", len(receipt.Spent)),
			slog.Int("created", len(receipt.Created)),
		)
		return receipt, nil
	case domain.ReceiptStatusConflict:
		return receipt, fmt.Errorf("settle: %s: %w", receipt.Detail, domain.ErrConflict)
	case domain.ReceiptStatusPredicateRejected:
		return receipt, fmt.Errorf("settle: %s: %w", receipt.Detail, domain.ErrPredicateRejected)
	default:
		return receipt, fmt.Errorf("settle: transaction invalid: %s", receipt.Detail)
	}
}

// submitWithRetry submits tx, retrying only transient provider failures.
// Before every resubmission it checks whether the transaction already
// landed, because a failed round trip does not mean a failed submission.
func (s *Settler) submitWithRetry(ctx context.Context, tx domain.Transaction) (domain.Hash, error) {
	localID := crypto.TxDigest(tx)

	for attempt := 0; ; attempt++ {
		id, err := s.provider.Submit(ctx, tx)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, domain.ErrProviderUnavailable) || attempt >= s.maxRetries {
			return domain.Hash{}, fmt.Errorf("settle: submit: %w", err)
		}

		s.logger.Warn("settle: provider unavailable, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)

		// The failed round trip may still have delivered the transaction.
		checkCtx, cancel := context.WithTimeout(ctx, s.backoff)
		receipt, checkErr := s.provider.AwaitInclusion(checkCtx, localID)
		cancel()
		if checkErr == nil {
			return receipt.TxID, nil
		}

		select {
		case <-ctx.Done():
			return domain.Hash{}, fmt.Errorf("settle: submit: %w", ctx.Err())
		case <-time.After(s.backoff * time.Duration(attempt+1)):
		}
	}
}

// LockedOrderSnapshot reads the current coin set held at the descriptor's
// predicate root. The returned snapshot is the input to the next assembler
// call; a zero balance means the order is closed.
func (s *Settler) LockedOrderSnapshot(ctx context.Context, d domain.OrderDescriptor) (domain.LockedOrder, error) {
	root := predicate.Root(d)
	asset := d.LockedAsset()

	balance, err := s.provider.Balance(ctx, root, asset)
	if err != nil {
		return domain.LockedOrder{}, fmt.Errorf("settle: read locked balance: %w", err)
	}
	order := domain.LockedOrder{Descriptor: d, Root: root}
	if balance == 0 {
		return order, nil
	}

	coins, err := s.provider.SelectCoins(ctx, root, asset, balance)
	if err != nil {
		return domain.LockedOrder{}, fmt.Errorf("settle: snapshot locked coins: %w", err)
	}
	order.Coins = coins
	return order, nil
}
