package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/quorumlabs/foresight/internal/blob/s3"
	"github.com/quorumlabs/foresight/internal/cache/redis"
	"github.com/quorumlabs/foresight/internal/config"
	"github.com/quorumlabs/foresight/internal/domain"
	"github.com/quorumlabs/foresight/internal/notify"
	"github.com/quorumlabs/foresight/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore     domain.MarketStore
	PositionStore   domain.PositionStore
	OracleStore     domain.OracleStore
	VaultStore      domain.VaultStore
	PolicyStore     domain.PolicyStore
	ReputationStore domain.ReputationStore
	ProposalStore   domain.ProposalStore
	FeeStore        domain.FeeStore
	AdminStore      domain.AdminStore
	AuditStore      domain.AuditStore

	// Caches
	MarketCache domain.MarketCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Notifications
	Notifier *notify.Notifier

	// Raw clients, kept for health checks.
	PGClient    *postgres.Client
	RedisClient *redis.Client
	S3Client    *s3blob.Client
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
	deps.PGClient = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.OracleStore = postgres.NewOracleStore(pool)
	deps.VaultStore = postgres.NewVaultStore(pool)
	deps.PolicyStore = postgres.NewPolicyStore(pool)
	deps.ReputationStore = postgres.NewReputationStore(pool)
	deps.ProposalStore = postgres.NewProposalStore(pool)
	deps.FeeStore = postgres.NewFeeStore(pool)
	deps.AdminStore = postgres.NewAdminStore(pool)
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
	deps.RedisClient = redisClient

	deps.MarketCache = redis.NewMarketCache(redisClient, 5*time.Minute)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (settlement-report archive) ---
	if cfg.S3.Enabled {
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
		deps.S3Client = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramBotToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	deps.Notifier = notify.NewNotifier(senders, nil, logger)

	return deps, cleanup, nil
}
