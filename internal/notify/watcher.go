package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quillfi/orderlock/internal/domain"
)

// eventChannel is the bus channel carrying order lifecycle events.
const eventChannel = "orders"

// titles maps event types to alert titles. Unknown events pass through with
// a generic title so new event types are never silently dropped.
var titles = map[string]string{
	"order_placed":    "Order placed",
	"order_filled":    "Order filled",
	"order_cancelled": "Order cancelled",
	"order_conflict":  "Settlement conflict",
}

// AlertWatcher subscribes to the order event channel and forwards events to
// a Notifier. It is the bridge between the signal bus and operator alerts.
type AlertWatcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewAlertWatcher creates an AlertWatcher over the given bus and notifier.
func NewAlertWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *AlertWatcher {
	return &AlertWatcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alert_watcher")),
	}
}

// Run consumes order events until the context is cancelled. Delivery
// failures are logged and skipped; alerting never blocks order flow.
func (w *AlertWatcher) Run(ctx context.Context) error {
	msgCh, err := w.bus.Subscribe(ctx, eventChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", eventChannel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgCh:
			if !ok {
				return fmt.Errorf("notify: event channel closed")
			}
			w.handle(ctx, data)
		}
	}
}

func (w *AlertWatcher) handle(ctx context.Context, data []byte) {
	var event map[string]string
	if err := json.Unmarshal(data, &event); err != nil {
		w.logger.Warn("notify: malformed event", slog.String("error", err.Error()))
		return
	}

	kind := event["event"]
	if kind == "" {
		return
	}

	title, ok := titles[kind]
	if !ok {
		title = "Order event: " + kind
	}

	msg := "root: " + event["root"]
	if tx := event["tx"]; tx != "" {
		msg += "\ntx: " + tx
	}
	if side := event["side"]; side != "" {
		msg += "\nside: " + side
	}

	if err := w.notifier.Notify(ctx, kind, title, msg); err != nil {
		w.logger.Warn("notify: delivery failed",
			slog.String("event", kind),
			slog.String("error", err.Error()),
		)
	}
}
