// Package domain defines the core types of the order-locking system: assets,
// addresses, coins, transactions, and the order descriptor that parameterizes
// a predicate root.
package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AssetID identifies a fungible asset class. Compared by value.
type AssetID [32]byte

// Hex returns the 0x-prefixed hex encoding of the asset id.
func (a AssetID) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// AssetIDFromHex parses a hex-encoded asset id, with or without 0x prefix.
func AssetIDFromHex(s string) (AssetID, error) {
	var a AssetID
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return a, fmt.Errorf("domain: invalid asset id hex: %w", err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("domain: asset id must be %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Address identifies the owner of a coin: either an account or a predicate
// root derived from an order descriptor.
type Address [32]byte

// Hex returns the 0x-prefixed hex encoding of the address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// AddressFromHex parses a hex-encoded address, with or without 0x prefix.
func AddressFromHex(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return a, fmt.Errorf("domain: invalid address hex: %w", err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("domain: address must be %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// IsZero reports whether the address is all zeroes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Hash is a 32-byte digest, used for transaction ids.
type Hash [32]byte

// Hex returns the 0x-prefixed hex encoding of the hash.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// UtxoID uniquely identifies an unspent output slot on the ledger.
type UtxoID struct {
	TxID  Hash
	Index uint16
}

// String renders the utxo id as "txid:index".
func (u UtxoID) String() string {
	return fmt.Sprintf("%s:%d", u.TxID.Hex(), u.Index)
}

// Coin is an unspent output: an amount of one asset owned by one address.
// The ledger guarantees a coin is consumed by at most one transaction.
type Coin struct {
	ID     UtxoID
	Asset  AssetID
	Amount uint64
	Owner  Address
}

// SumCoins returns the total amount across the given coins.
func SumCoins(coins []Coin) uint64 {
	var total uint64
	for _, c := range coins {
		total += c.Amount
	}
	return total
}
