package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quillfi/orderlock/internal/domain"
)

// ReceiptArchiver uploads settlement receipts as JSON objects keyed by
// transaction id. Receipts are the only durable record of why a settlement
// ended the way it did; the ledger keeps balances, not rejection reasons.
type ReceiptArchiver struct {
	client *Client
}

// NewReceiptArchiver creates a ReceiptArchiver backed by the given Client.
func NewReceiptArchiver(c *Client) *ReceiptArchiver {
	return &ReceiptArchiver{client: c}
}

// archivedReceipt is the stored JSON shape. Hashes and addresses are hex so
// the objects are inspectable without tooling.
type archivedReceipt struct {
	TxID       string         `json:"tx_id"`
	Status     string         `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Spent      []string       `json:"spent,omitempty"`
	Created    []archivedCoin `json:"created,omitempty"`
	IncludedAt time.Time      `json:"included_at"`
	ArchivedAt time.Time      `json:"archived_at"`
}

type archivedCoin struct {
	ID     string `json:"id"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
	Owner  string `json:"owner"`
}

// ArchiveReceipt uploads the receipt to receipts/YYYY-MM/<txid>.json.
func (a *ReceiptArchiver) ArchiveReceipt(ctx context.Context, receipt domain.Receipt) error {
	rec := archivedReceipt{
		TxID:       receipt.TxID.Hex(),
		Status:     string(receipt.Status),
		Detail:     receipt.Detail,
		IncludedAt: receipt.IncludedAt,
		ArchivedAt: time.Now().UTC(),
	}
	for _, id := range receipt.Spent {
		rec.Spent = append(rec.Spent, id.String())
	}
	for _, c := range receipt.Created {
		rec.Created = append(rec.Created, archivedCoin{
			ID:     c.ID.String(),
			Asset:  c.Asset.Hex(),
			Amount: c.Amount,
			Owner:  c.Owner.Hex(),
		})
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("s3blob: marshal receipt %s: %w", rec.TxID, err)
	}

	key := receiptKey(receipt)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String("application/json"),
	}
	if _, err := a.client.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put receipt %s: %w", key, err)
	}
	return nil
}

func receiptKey(receipt domain.Receipt) string {
	month := receipt.IncludedAt.UTC().Format("2006-01")
	if receipt.IncludedAt.IsZero() {
		month = time.Now().UTC().Format("2006-01")
	}
	return fmt.Sprintf("receipts/%s/%s.json", month, receipt.TxID.Hex())
}
