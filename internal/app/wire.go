package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/quillfi/orderlock/internal/blob/s3"
	"github.com/quillfi/orderlock/internal/cache/redis"
	"github.com/quillfi/orderlock/internal/config"
	"github.com/quillfi/orderlock/internal/crypto"
	"github.com/quillfi/orderlock/internal/domain"
	"github.com/quillfi/orderlock/internal/ledger/memledger"
	"github.com/quillfi/orderlock/internal/ledger/rpc"
	"github.com/quillfi/orderlock/internal/settle"
	"github.com/quillfi/orderlock/internal/store/postgres"
	"github.com/quillfi/orderlock/internal/wallet"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Provider domain.Provider
	Wallet   *wallet.Wallet

	OrderStore domain.OrderStore
	AuditStore domain.AuditStore

	BalanceCache domain.BalanceCache
	SignalBus    domain.SignalBus
	LockManager  domain.LockManager
	RateLimiter  domain.RateLimiter

	Archiver settle.ReceiptArchiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Ledger provider ---
	switch strings.ToLower(cfg.Ledger.Mode) {
	case "memory":
		deps.Provider = memledger.New()
	default:
		client := rpc.NewClient(rpc.ClientConfig{
			BaseURL:      cfg.Ledger.RPCHost,
			Timeout:      cfg.Ledger.Timeout.Duration,
			PollInterval: cfg.Ledger.PollInterval.Duration,
		})
		if cfg.Ledger.WSHost != "" {
			watcher := rpc.NewInclusionWatcher(cfg.Ledger.WSHost, logger)
			if err := watcher.Connect(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: inclusion watcher: %w", err)
			}
			closers = append(closers, func() { _ = watcher.Close() })
			client = client.WithWatcher(watcher)
		}
		deps.Provider = client
	}

	// --- Wallet ---
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		w, err := wallet.FromKeyConfig(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		}, deps.Provider)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		deps.Wallet = w
	}

	// --- PostgreSQL bookkeeping ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.BalanceCache = redis.NewBalanceCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 receipt archive (optional) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Archiver = s3blob.NewReceiptArchiver(s3Client)
	}

	return deps, cleanup, nil
}
