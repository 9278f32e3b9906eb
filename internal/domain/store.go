package domain

import "context"

// OrderStore persists order-address bookkeeping: which predicate roots were
// deployed with which terms. The ledger remains the source of truth for
// balances; these rows exist so operators can enumerate their orders.
type OrderStore interface {
	Create(ctx context.Context, rec OrderRecord) error
	UpdateStatus(ctx context.Context, root Address, status OrderStatus) error
	AddLockedAmount(ctx context.Context, root Address, amount uint64) error
	GetByRoot(ctx context.Context, root Address) (OrderRecord, error)
	ListOpen(ctx context.Context, maker Address) ([]OrderRecord, error)
}

// AuditStore records operational events for later inspection.
type AuditStore interface {
	Log(ctx context.Context, event string, payload map[string]any) error
}
