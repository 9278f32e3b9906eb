package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quillfi/orderlock/internal/domain"
)

// OrderService defines the methods the order handler requires from the
// service layer.
type OrderService interface {
	PlaceOrder(ctx context.Context, maker domain.Account, desc domain.OrderDescriptor, amount uint64) (domain.CreateOrderEvent, error)
	CancelOrder(ctx context.Context, maker domain.Account, root domain.Address) error
	FulfillOrder(ctx context.Context, taker domain.Account, root domain.Address, offeredAmount uint64) (domain.Receipt, error)
	Snapshot(ctx context.Context, root domain.Address) (domain.LockedOrder, error)
	ListOpen(ctx context.Context, maker domain.Address) ([]domain.OrderRecord, error)
}

// OrderHandler serves order-related HTTP endpoints. All operations sign with
// the node's own wallet; this is an operator API, not a public one.
type OrderHandler struct {
	orders OrderService
	signer domain.Account
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service, signing
// account, and logger.
func NewOrderHandler(orders OrderService, signer domain.Account, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		signer: signer,
		logger: logger,
	}
}

// placeOrderRequest is the JSON body for placing (or topping up) an order.
// Amounts are in indivisible units of the locked asset; price is fixed-point
// quote-per-base at the protocol scale.
type placeOrderRequest struct {
	Side          string `json:"side"`
	QuoteAsset    string `json:"quote_asset"`
	BaseAsset     string `json:"base_asset"`
	QuoteDecimals uint32 `json:"quote_decimals"`
	BaseDecimals  uint32 `json:"base_decimals"`
	Price         uint64 `json:"price"`
	MinFillAmount uint64 `json:"min_fill_amount"`
	Amount        uint64 `json:"amount"`
}

type placeOrderResponse struct {
	ID     string `json:"id"`
	Root   string `json:"root"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
	Price  uint64 `json:"price"`
	Maker  string `json:"maker"`
}

type fulfillRequest struct {
	Amount uint64 `json:"amount"`
}

type receiptResponse struct {
	TxID       string `json:"tx_id"`
	Status     string `json:"status"`
	IncludedAt string `json:"included_at"`
}

// orderView is the JSON shape for order records and snapshots.
type orderView struct {
	Root          string `json:"root"`
	Side          string `json:"side"`
	QuoteAsset    string `json:"quote_asset"`
	BaseAsset     string `json:"base_asset"`
	QuoteDecimals uint32 `json:"quote_decimals"`
	BaseDecimals  uint32 `json:"base_decimals"`
	Maker         string `json:"maker"`
	Price         uint64 `json:"price"`
	MinFillAmount uint64 `json:"min_fill_amount"`
	LockedAmount  uint64 `json:"locked_amount"`
	Status        string `json:"status,omitempty"`
}

func viewFromRecord(rec domain.OrderRecord) orderView {
	return orderView{
		Root:          rec.Root.Hex(),
		Side:          rec.Side.String(),
		QuoteAsset:    rec.QuoteAsset.Hex(),
		BaseAsset:     rec.BaseAsset.Hex(),
		QuoteDecimals: rec.QuoteDecimals,
		BaseDecimals:  rec.BaseDecimals,
		Maker:         rec.Maker.Hex(),
		Price:         rec.Price,
		MinFillAmount: rec.MinFillAmount,
		LockedAmount:  rec.LockedAmount,
		Status:        string(rec.Status),
	}
}

// ListOrders returns the node wallet's open orders.
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	records, err := h.orders.ListOpen(r.Context(), h.signer.Address())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	views := make([]orderView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewFromRecord(rec))
	}
	writeJSON(w, http.StatusOK, map[string][]orderView{"orders": views})
}

// GetOrder returns the live ledger snapshot for a predicate root.
// GET /api/orders/{root}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	root, err := rootParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid predicate root")
		return
	}

	snap, err := h.orders.Snapshot(r.Context(), root)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: snapshot failed",
			slog.String("root", root.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read order")
		return
	}

	d := snap.Descriptor
	writeJSON(w, http.StatusOK, orderView{
		Root:          snap.Root.Hex(),
		Side:          d.Side.String(),
		QuoteAsset:    d.QuoteAsset.Hex(),
		BaseAsset:     d.BaseAsset.Hex(),
		QuoteDecimals: d.QuoteDecimals,
		BaseDecimals:  d.BaseDecimals,
		Maker:         d.Maker.Hex(),
		Price:         d.Price,
		MinFillAmount: d.MinFillAmount,
		LockedAmount:  snap.Balance(),
	})
}

// PlaceOrder locks funds under a predicate root described by the JSON body.
// Posting the same terms again tops up the existing order.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	desc, err := descriptorFromRequest(req, h.signer.Address())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	event, err := h.orders.PlaceOrder(r.Context(), h.signer, desc, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidOrder):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrInsufficientFunds):
			writeError(w, http.StatusUnprocessableEntity, "insufficient funds")
		case errors.Is(err, domain.ErrLockHeld):
			writeError(w, http.StatusConflict, "order is busy, retry later")
		default:
			h.logger.ErrorContext(r.Context(), "handler: place order failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to place order")
		}
		return
	}

	writeJSON(w, http.StatusCreated, placeOrderResponse{
		ID:     event.ID,
		Root:   event.Root.Hex(),
		Asset:  event.Asset.Hex(),
		Amount: event.Amount,
		Price:  event.Price,
		Maker:  event.Maker.Hex(),
	})
}

// CancelOrder reclaims all funds locked at a predicate root.
// DELETE /api/orders/{root}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	root, err := rootParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid predicate root")
		return
	}

	if err := h.orders.CancelOrder(r.Context(), h.signer, root); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrOrderClosed):
			writeError(w, http.StatusGone, "order already closed")
		case errors.Is(err, domain.ErrUnauthorized):
			writeError(w, http.StatusForbidden, "not the maker of this order")
		case errors.Is(err, domain.ErrLockHeld):
			writeError(w, http.StatusConflict, "order is busy, retry later")
		default:
			h.logger.ErrorContext(r.Context(), "handler: cancel order failed",
				slog.String("root", root.Hex()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel order")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancelled",
		"root":   root.Hex(),
	})
}

// FulfillOrder takes the requested amount from an order at its price,
// paying from the node wallet. Requests exceeding the remaining locked
// balance are rejected rather than trimmed.
// POST /api/orders/{root}/fill
func (h *OrderHandler) FulfillOrder(w http.ResponseWriter, r *http.Request) {
	root, err := rootParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid predicate root")
		return
	}

	var req fulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	receipt, err := h.orders.FulfillOrder(r.Context(), h.signer, root, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrOrderClosed):
			writeError(w, http.StatusGone, "order is closed")
		case errors.Is(err, domain.ErrInvalidOrder):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrInsufficientFunds):
			writeError(w, http.StatusUnprocessableEntity, "insufficient funds")
		case errors.Is(err, domain.ErrConflict):
			writeError(w, http.StatusConflict, "order state changed, retry")
		case errors.Is(err, domain.ErrPredicateRejected):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: fulfill order failed",
				slog.String("root", root.Hex()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to fulfill order")
		}
		return
	}

	writeJSON(w, http.StatusOK, receiptResponse{
		TxID:       receipt.TxID.Hex(),
		Status:     string(receipt.Status),
		IncludedAt: receipt.IncludedAt.UTC().Format(time.RFC3339),
	})
}

// descriptorFromRequest validates and converts the request body into an
// order descriptor signed by maker.
func descriptorFromRequest(req placeOrderRequest, maker domain.Address) (domain.OrderDescriptor, error) {
	var d domain.OrderDescriptor

	switch req.Side {
	case "buy":
		d.Side = domain.SideBuy
	case "sell":
		d.Side = domain.SideSell
	default:
		return d, errors.New("side must be \"buy\" or \"sell\"")
	}

	quote, err := domain.AssetIDFromHex(req.QuoteAsset)
	if err != nil {
		return d, errors.New("invalid quote_asset")
	}
	base, err := domain.AssetIDFromHex(req.BaseAsset)
	if err != nil {
		return d, errors.New("invalid base_asset")
	}

	d.QuoteAsset = quote
	d.BaseAsset = base
	d.QuoteDecimals = req.QuoteDecimals
	d.BaseDecimals = req.BaseDecimals
	d.Maker = maker
	d.Price = req.Price
	d.MinFillAmount = req.MinFillAmount
	return d, nil
}
