package rpc

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/quillfi/orderlock/internal/domain"
)

// Wire DTOs for the node's JSON API. Hashes and addresses travel as
// 0x-prefixed hex.

type coinDTO struct {
	TxID   string `json:"tx_id"`
	Index  uint16 `json:"index"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
	Owner  string `json:"owner"`
}

type utxoDTO struct {
	TxID  string `json:"tx_id"`
	Index uint16 `json:"index"`
}

type descriptorDTO struct {
	Side          string `json:"side"`
	QuoteAsset    string `json:"quote_asset"`
	BaseAsset     string `json:"base_asset"`
	QuoteDecimals uint32 `json:"quote_decimals"`
	BaseDecimals  uint32 `json:"base_decimals"`
	Maker         string `json:"maker"`
	Price         uint64 `json:"price"`
	MinFillAmount uint64 `json:"min_fill_amount"`
}

type inputDTO struct {
	Coin       coinDTO        `json:"coin"`
	Witness    string         `json:"witness,omitempty"`
	Descriptor *descriptorDTO `json:"descriptor,omitempty"`
}

type outputDTO struct {
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type txDTO struct {
	Inputs  []inputDTO  `json:"inputs"`
	Outputs []outputDTO `json:"outputs"`
	Nonce   uint64      `json:"nonce"`
}

type receiptDTO struct {
	TxID       string    `json:"tx_id"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	Spent      []utxoDTO `json:"spent,omitempty"`
	Created    []coinDTO `json:"created,omitempty"`
	IncludedAt time.Time `json:"included_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeCoin(c domain.Coin) coinDTO {
	return coinDTO{
		TxID:   c.ID.TxID.Hex(),
		Index:  c.ID.Index,
		Asset:  c.Asset.Hex(),
		Amount: c.Amount,
		Owner:  c.Owner.Hex(),
	}
}

func decodeCoin(d coinDTO) (domain.Coin, error) {
	var c domain.Coin
	txid, err := hashFromHex(d.TxID)
	if err != nil {
		return c, err
	}
	c.ID = domain.UtxoID{TxID: txid, Index: d.Index}
	if c.Asset, err = domain.AssetIDFromHex(d.Asset); err != nil {
		return c, err
	}
	if c.Owner, err = domain.AddressFromHex(d.Owner); err != nil {
		return c, err
	}
	c.Amount = d.Amount
	return c, nil
}

func encodeDescriptor(d *domain.OrderDescriptor) *descriptorDTO {
	if d == nil {
		return nil
	}
	return &descriptorDTO{
		Side:          d.Side.String(),
		QuoteAsset:    d.QuoteAsset.Hex(),
		BaseAsset:     d.BaseAsset.Hex(),
		QuoteDecimals: d.QuoteDecimals,
		BaseDecimals:  d.BaseDecimals,
		Maker:         d.Maker.Hex(),
		Price:         d.Price,
		MinFillAmount: d.MinFillAmount,
	}
}

func encodeTx(tx domain.Transaction) txDTO {
	out := txDTO{Nonce: tx.Nonce}
	for _, in := range tx.Inputs {
		out.Inputs = append(out.Inputs, inputDTO{
			Coin:       encodeCoin(in.Coin),
			Witness:    hex.EncodeToString(in.Witness),
			Descriptor: encodeDescriptor(in.Descriptor),
		})
	}
	for _, o := range tx.Outputs {
		out.Outputs = append(out.Outputs, outputDTO{
			To:     o.To.Hex(),
			Asset:  o.Asset.Hex(),
			Amount: o.Amount,
		})
	}
	return out
}

func decodeReceipt(d receiptDTO) (domain.Receipt, error) {
	var r domain.Receipt
	txid, err := hashFromHex(d.TxID)
	if err != nil {
		return r, err
	}
	r.TxID = txid
	r.Status = domain.ReceiptStatus(d.Status)
	r.Detail = d.Detail
	r.IncludedAt = d.IncludedAt
	for _, u := range d.Spent {
		id, err := hashFromHex(u.TxID)
		if err != nil {
			return r, err
		}
		r.Spent = append(r.Spent, domain.UtxoID{TxID: id, Index: u.Index})
	}
	for _, c := range d.Created {
		coin, err := decodeCoin(c)
		if err != nil {
			return r, err
		}
		r.Created = append(r.Created, coin)
	}
	return r, nil
}

func hashFromHex(s string) (domain.Hash, error) {
	var h domain.Hash
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("rpc: invalid hash hex: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("rpc: hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}
