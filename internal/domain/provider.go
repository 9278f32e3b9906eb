package domain

import "context"

// Provider is the ledger boundary: coin queries and transaction submission.
// Implementations are assumed reliable but may be slow; callers bound every
// call with a context deadline.
type Provider interface {
	// SelectCoins returns unspent coins owned by owner of the given asset
	// totaling at least amount. Returns ErrInsufficientFunds when the owner
	// cannot cover the amount.
	SelectCoins(ctx context.Context, owner Address, asset AssetID, amount uint64) ([]Coin, error)

	// Balance returns the total unspent amount of asset held by owner.
	Balance(ctx context.Context, owner Address, asset AssetID) (uint64, error)

	// Submit sends a transaction to the ledger and returns its id. Submission
	// does not imply inclusion; callers follow up with AwaitInclusion.
	Submit(ctx context.Context, tx Transaction) (Hash, error)

	// AwaitInclusion blocks until the transaction is included or rejected,
	// or the context expires. A context expiry leaves the attempt
	// indeterminate: the caller must re-query state before retrying.
	AwaitInclusion(ctx context.Context, id Hash) (Receipt, error)
}

// Account is a coin-holding entity that can fund and sign transactions.
type Account interface {
	// Address is where the account receives funds and change.
	Address() Address

	// SelectCoins picks unspent coins of the given asset totaling at least
	// amount. Returns ErrInsufficientFunds when the balance cannot cover it.
	SelectCoins(ctx context.Context, asset AssetID, amount uint64) ([]Coin, error)

	// SignTransaction fills the Witness of every input owned by this
	// account with a signature over the transaction digest.
	SignTransaction(tx *Transaction) error
}
