package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quillfi/orderlock/internal/assembler"
	"github.com/quillfi/orderlock/internal/domain"
	"github.com/quillfi/orderlock/internal/notify"
	"github.com/quillfi/orderlock/internal/proxy"
	"github.com/quillfi/orderlock/internal/server"
	"github.com/quillfi/orderlock/internal/server/handler"
	"github.com/quillfi/orderlock/internal/server/ws"
	"github.com/quillfi/orderlock/internal/service"
	"github.com/quillfi/orderlock/internal/settle"
)

// ServeMode runs the full order node: the operator HTTP/WebSocket API for
// placing, cancelling, and fulfilling orders, plus the keeper that keeps
// bookkeeping rows aligned with the ledger.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	if deps.Wallet == nil {
		return fmt.Errorf("app: serve mode requires a wallet key")
	}

	g, ctx := errgroup.WithContext(ctx)

	asm := assembler.New(deps.Provider, a.logger)
	settler := settle.New(deps.Provider, a.logger).
		WithRetryPolicy(a.cfg.Settle.MaxRetries, a.cfg.Settle.RetryBackoff.Duration).
		WithInclusionTimeout(a.cfg.Settle.InclusionTimeout.Duration)
	if deps.Archiver != nil {
		settler = settler.WithArchiver(deps.Archiver)
	}

	funder := proxy.NewFunder(asm, settler, a.logger)
	orderSvc := service.NewOrderService(
		asm, settler, funder, deps.Provider,
		deps.OrderStore, deps.AuditStore,
		deps.BalanceCache, deps.SignalBus, deps.LockManager,
		a.logger,
	)

	// WebSocket hub bridging the signal bus to connected operators.
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Orders: handler.NewOrderHandler(orderSvc, deps.Wallet, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if a.cfg.Notify.Enabled() {
		var senders []notify.Sender
		if a.cfg.Notify.TelegramToken != "" && a.cfg.Notify.TelegramChatID != "" {
			senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
		}
		if a.cfg.Notify.DiscordWebhook != "" {
			senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhook))
		}
		notifier := notify.NewNotifier(senders, a.cfg.Notify.Events, a.logger)
		watcher := notify.NewAlertWatcher(deps.SignalBus, notifier, a.logger)
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	if a.cfg.Keeper.Enabled {
		keeper, err := a.buildKeeper(deps)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return keeper.Run(ctx)
		})
	}

	return g.Wait()
}

// ReconcileMode runs a single bookkeeping reconciliation pass and exits.
// Useful from cron or after restoring a database backup.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	keeper, err := a.buildKeeper(deps)
	if err != nil {
		return err
	}
	if err := keeper.Reconcile(ctx); err != nil {
		return fmt.Errorf("app: reconcile: %w", err)
	}

	a.logger.InfoContext(ctx, "reconcile pass complete")
	return nil
}

// buildKeeper constructs the keeper over the configured maker addresses,
// defaulting to the node wallet when none are configured.
func (a *App) buildKeeper(deps *Dependencies) (*service.Keeper, error) {
	makers := make([]domain.Address, 0, len(a.cfg.Keeper.Makers))
	for _, s := range a.cfg.Keeper.Makers {
		addr, err := domain.AddressFromHex(s)
		if err != nil {
			return nil, fmt.Errorf("app: keeper maker %q: %w", s, err)
		}
		makers = append(makers, addr)
	}
	if len(makers) == 0 {
		if deps.Wallet == nil {
			return nil, fmt.Errorf("app: keeper has no makers configured and no wallet to default to")
		}
		makers = append(makers, deps.Wallet.Address())
	}

	return service.NewKeeper(
		deps.Provider, deps.OrderStore, deps.BalanceCache,
		makers, a.cfg.Keeper.Interval.Duration, a.logger,
	), nil
}
