package domain

import "errors"

var (
	// ErrInsufficientFunds means coin selection could not cover the
	// requested amount. Detected before submission.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPredicateRejected means the ledger rejected the transaction
	// because a predicate's validation returned false. The wrapping error
	// carries the raw receipt detail.
	ErrPredicateRejected = errors.New("predicate rejected")

	// ErrConflict means a targeted coin was already consumed by a competing
	// transaction. Recoverable: re-read state and retry with fresh amounts.
	ErrConflict = errors.New("coin already spent")

	// ErrProviderUnavailable is a transient transport failure. Safe to retry
	// the read-then-decide cycle; never safe to blindly resubmit.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrOrderClosed means the predicate root holds no unspent coins.
	ErrOrderClosed = errors.New("order closed")

	ErrInvalidOrder = errors.New("invalid order parameters")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrLockHeld     = errors.New("lock already held")
)
