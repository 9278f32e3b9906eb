package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quillfi/orderlock/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second
)

// InclusionWatcher subscribes to the node's receipt stream over a websocket
// and hands pushed receipts to waiting settlements. It replaces receipt
// polling when the node supports push.
type InclusionWatcher struct {
	wsURL  string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	waiters map[domain.Hash][]chan domain.Receipt
	closed  bool

	done chan struct{}
}

// NewInclusionWatcher creates a watcher for the given websocket endpoint,
// e.g. "ws://localhost:4000/v1/receipts/stream".
func NewInclusionWatcher(wsURL string, logger *slog.Logger) *InclusionWatcher {
	return &InclusionWatcher{
		wsURL:   wsURL,
		logger:  logger.With("component", "inclusion_watcher"),
		waiters: make(map[domain.Hash][]chan domain.Receipt),
		done:    make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the read and ping
// loops. The loops reconnect on failure until Close is called.
func (w *InclusionWatcher) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("rpc: watcher closed")
	}

	if err := w.dial(ctx); err != nil {
		return err
	}

	go w.readLoop()
	go w.pingLoop()
	return nil
}

func (w *InclusionWatcher) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("rpc: watcher connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	w.conn = conn
	return nil
}

// Await blocks until a receipt for the given transaction is pushed or the
// context expires.
func (w *InclusionWatcher) Await(ctx context.Context, id domain.Hash) (domain.Receipt, error) {
	ch := make(chan domain.Receipt, 1)

	w.mu.Lock()
	w.waiters[id] = append(w.waiters[id], ch)
	w.mu.Unlock()

	defer w.removeWaiter(id, ch)

	select {
	case receipt := <-ch:
		return receipt, nil
	case <-ctx.Done():
		return domain.Receipt{}, ctx.Err()
	case <-w.done:
		return domain.Receipt{}, fmt.Errorf("rpc: watcher closed")
	}
}

func (w *InclusionWatcher) removeWaiter(id domain.Hash, ch chan domain.Receipt) {
	w.mu.Lock()
	defer w.mu.Unlock()

	chans := w.waiters[id]
	for i, c := range chans {
		if c == ch {
			w.waiters[id] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(w.waiters[id]) == 0 {
		delete(w.waiters, id)
	}
}

// readLoop reads receipt messages and dispatches them to waiters. On read
// errors it reconnects until the watcher is closed.
func (w *InclusionWatcher) readLoop() {
	for {
		w.mu.Lock()
		conn := w.conn
		closed := w.closed
		w.mu.Unlock()

		if closed {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.logger.Warn("inclusion_watcher: read failed, reconnecting", "error", err)
			time.Sleep(reconnectDelay)

			w.mu.Lock()
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			err := w.dial(ctx)
			cancel()
			w.mu.Unlock()
			if err != nil {
				w.logger.Warn("inclusion_watcher: reconnect failed", "error", err)
			}
			continue
		}

		var dto receiptDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			w.logger.Warn("inclusion_watcher: bad receipt message", "error", err)
			continue
		}
		receipt, err := decodeReceipt(dto)
		if err != nil {
			w.logger.Warn("inclusion_watcher: bad receipt message", "error", err)
			continue
		}

		w.dispatch(receipt)
	}
}

func (w *InclusionWatcher) dispatch(receipt domain.Receipt) {
	w.mu.Lock()
	chans := w.waiters[receipt.TxID]
	delete(w.waiters, receipt.TxID)
	w.mu.Unlock()

	for _, ch := range chans {
		ch <- receipt
	}
}

// pingLoop sends pings to keep the connection alive.
func (w *InclusionWatcher) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writePing()
		}
	}
}

// writePing writes under the mutex so a ping never lands on a connection
// the read loop is in the middle of replacing.
func (w *InclusionWatcher) writePing() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.conn == nil {
		return
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		w.logger.Warn("inclusion_watcher: ping failed", "error", err)
	}
}

// Close tears down the connection and releases all waiters.
func (w *InclusionWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}
