package domain

import (
	"encoding/binary"
	"time"
)

// PriceDecimals is the protocol-wide fixed-point scale for order prices.
// A price of 70_000 * 1e9 means 70,000 quote units per base unit.
const PriceDecimals = 9

// OrderSide indicates which asset the order locks.
type OrderSide uint8

const (
	// SideBuy locks the quote asset and asks for the base asset.
	SideBuy OrderSide = iota
	// SideSell locks the base asset and asks for the quote asset.
	SideSell
)

// String returns "buy" or "sell".
func (s OrderSide) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

// OrderDescriptor is the immutable record of an order's terms. It is created
// once by the maker before locking funds and fully determines the predicate
// root controlling the locked coins.
type OrderDescriptor struct {
	Side          OrderSide
	QuoteAsset    AssetID
	BaseAsset     AssetID
	QuoteDecimals uint32
	BaseDecimals  uint32
	Maker         Address
	Price         uint64 // fixed point, PriceDecimals scale, quote per base
	MinFillAmount uint64 // minimum fill in units of the locked asset
}

// LockedAsset returns the asset the descriptor locks at the predicate root.
func (d OrderDescriptor) LockedAsset() AssetID {
	if d.Side == SideSell {
		return d.BaseAsset
	}
	return d.QuoteAsset
}

// AskedAsset returns the counter-asset a taker must supply.
func (d OrderDescriptor) AskedAsset() AssetID {
	if d.Side == SideSell {
		return d.QuoteAsset
	}
	return d.BaseAsset
}

// Encode returns the canonical fixed-width encoding of the descriptor, the
// byte string from which the predicate root is derived. Field order and
// widths are part of the protocol and must not change.
func (d OrderDescriptor) Encode() []byte {
	buf := make([]byte, 0, 1+32+32+4+4+32+8+8)
	buf = append(buf, byte(d.Side))
	buf = append(buf, d.QuoteAsset[:]...)
	buf = append(buf, d.BaseAsset[:]...)
	buf = binary.BigEndian.AppendUint32(buf, d.QuoteDecimals)
	buf = binary.BigEndian.AppendUint32(buf, d.BaseDecimals)
	buf = append(buf, d.Maker[:]...)
	buf = binary.BigEndian.AppendUint64(buf, d.Price)
	buf = binary.BigEndian.AppendUint64(buf, d.MinFillAmount)
	return buf
}

// LockedOrder is a snapshot of the coins currently held at a predicate root.
// The ledger is the source of truth; no history is tracked.
type LockedOrder struct {
	Descriptor OrderDescriptor
	Root       Address
	Coins      []Coin
}

// Balance returns the total locked amount in the snapshot.
func (o LockedOrder) Balance() uint64 {
	return SumCoins(o.Coins)
}

// OrderStatus tracks the bookkeeping view of an order's lifecycle. The
// ledger state (sum of unspent coins at the root) is authoritative; status
// rows exist for operator visibility only.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusClosed          OrderStatus = "closed"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// OrderRecord is the persisted bookkeeping row for a deployed order.
type OrderRecord struct {
	Root          Address
	Side          OrderSide
	QuoteAsset    AssetID
	BaseAsset     AssetID
	QuoteDecimals uint32
	BaseDecimals  uint32
	Maker         Address
	Price         uint64
	MinFillAmount uint64
	LockedAmount  uint64 // total transferred in by the maker
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Descriptor reconstructs the order descriptor from the record.
func (r OrderRecord) Descriptor() OrderDescriptor {
	return OrderDescriptor{
		Side:          r.Side,
		QuoteAsset:    r.QuoteAsset,
		BaseAsset:     r.BaseAsset,
		QuoteDecimals: r.QuoteDecimals,
		BaseDecimals:  r.BaseDecimals,
		Maker:         r.Maker,
		Price:         r.Price,
		MinFillAmount: r.MinFillAmount,
	}
}

// CreateOrderEvent is emitted by the proxy helper when a maker funds a
// predicate root in one call.
type CreateOrderEvent struct {
	ID        string
	Root      Address
	Asset     AssetID
	Amount    uint64
	Price     uint64
	Maker     Address
	Timestamp time.Time
}
