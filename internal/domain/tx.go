package domain

import (
	"encoding/binary"
	"time"
)

// Input consumes one coin. Account-owned coins carry a Witness signature;
// predicate-owned coins carry the Descriptor whose derived root must match
// the coin owner.
type Input struct {
	Coin       Coin
	Witness    []byte           // signature over the tx digest, account coins
	Descriptor *OrderDescriptor // set for predicate-owned coins
}

// IsPredicate reports whether the input spends a predicate-owned coin.
func (in Input) IsPredicate() bool {
	return in.Descriptor != nil
}

// Output creates one new coin.
type Output struct {
	To     Address
	Asset  AssetID
	Amount uint64
}

// Transaction is a proposed input/output set. It is valid when every input
// is unspent, each account input carries a signature from its owner, each
// predicate input satisfies its predicate, and per-asset value is conserved.
type Transaction struct {
	Inputs  []Input
	Outputs []Output
	Nonce   uint64
}

// CanonicalBytes returns the deterministic byte encoding that is hashed to
// produce the transaction digest. Witnesses are excluded so signatures can
// be applied after encoding.
func (tx Transaction) CanonicalBytes() []byte {
	var buf []byte
	buf = binary.BigEndian.AppendUint64(buf, tx.Nonce)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.Coin.ID.TxID[:]...)
		buf = binary.BigEndian.AppendUint16(buf, in.Coin.ID.Index)
		buf = append(buf, in.Coin.Asset[:]...)
		buf = binary.BigEndian.AppendUint64(buf, in.Coin.Amount)
		buf = append(buf, in.Coin.Owner[:]...)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = append(buf, out.To[:]...)
		buf = append(buf, out.Asset[:]...)
		buf = binary.BigEndian.AppendUint64(buf, out.Amount)
	}
	return buf
}

// OutputsTo sums the outputs of the given asset paid to the given address.
func (tx Transaction) OutputsTo(to Address, asset AssetID) uint64 {
	var total uint64
	for _, out := range tx.Outputs {
		if out.To == to && out.Asset == asset {
			total += out.Amount
		}
	}
	return total
}

// ReceiptStatus is the ledger's verdict on a submitted transaction.
type ReceiptStatus string

const (
	ReceiptStatusSuccess           ReceiptStatus = "success"
	ReceiptStatusPredicateRejected ReceiptStatus = "predicate_rejected"
	ReceiptStatusConflict          ReceiptStatus = "conflict"
	ReceiptStatusInvalid           ReceiptStatus = "invalid"
)

// Receipt reports the outcome of a submitted transaction. Detail carries the
// raw rejection reason for diagnosis; it is not machine-parsed.
type Receipt struct {
	TxID       Hash
	Status     ReceiptStatus
	Detail     string
	Spent      []UtxoID
	Created    []Coin
	IncludedAt time.Time
}
