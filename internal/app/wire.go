package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/alanyoungcy/consensusbot/internal/blob/s3"
	cachemem "github.com/alanyoungcy/consensusbot/internal/cache/memory"
	"github.com/alanyoungcy/consensusbot/internal/cache/redis"
	"github.com/alanyoungcy/consensusbot/internal/config"
	"github.com/alanyoungcy/consensusbot/internal/consensus"
	"github.com/alanyoungcy/consensusbot/internal/dispatch"
	"github.com/alanyoungcy/consensusbot/internal/domain"
	"github.com/alanyoungcy/consensusbot/internal/metrics"
	"github.com/alanyoungcy/consensusbot/internal/monitor"
	"github.com/alanyoungcy/consensusbot/internal/notify"
	"github.com/alanyoungcy/consensusbot/internal/platform/dexscreener"
	"github.com/alanyoungcy/consensusbot/internal/server/handler"
	"github.com/alanyoungcy/consensusbot/internal/service"
	storemem "github.com/alanyoungcy/consensusbot/internal/store/memory"
	"github.com/alanyoungcy/consensusbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	TradeStore   domain.TradeStore
	SignalStore  domain.SignalStore
	WalletStore  domain.WalletStore
	TokenStore   domain.TokenStore
	ClusterStore domain.ClusterStore
	AuditStore   domain.AuditStore

	// Caches
	MarketCache domain.MarketDataCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	OnceGuard   domain.OnceGuard
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Engine and collaborators
	Thresholds consensus.Thresholds
	Engine     *consensus.Engine
	Dispatcher *dispatch.Dispatcher
	Notifier   *notify.Notifier
	Metrics    *metrics.Recorder

	// HealthChecks ping each external backend for /api/health.
	HealthChecks map[string]handler.HealthCheck

	// janitor, when set, is run periodically to expire in-process state.
	janitor func()
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics:      metrics.New(prometheus.NewRegistry()),
		HealthChecks: make(map[string]handler.HealthCheck),
	}

	if cfg.UsesPostgres() {
		if err := wireBackends(ctx, cfg, deps, &closers); err != nil {
			cleanup()
			return nil, nil, err
		}
	} else {
		wireMemory(deps)
	}

	// --- S3 blob storage (only when the archive loop runs) ---
	if cfg.ArchiveEnabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.HealthChecks["s3"] = s3Client.Health

		archiveTrades, ok := deps.TradeStore.(s3blob.TradeArchiveStore)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("wire: trade store %T cannot be archived", deps.TradeStore)
		}
		deps.Archiver = s3blob.NewTradeArchiver(s3blob.NewWriter(s3Client), archiveTrades, deps.AuditStore, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Background tasks ---
	deps.Dispatcher = dispatch.New(dispatch.Config{
		MaxConcurrent: cfg.Dispatch.MaxConcurrent,
		TaskTimeout:   cfg.Dispatch.TaskTimeout.Duration,
		FailureBuffer: cfg.Dispatch.FailureBuffer,
	}, logger)
	closers = append(closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deps.Dispatcher.Close(closeCtx); err != nil {
			logger.Warn("wire: dispatcher close", slog.String("error", err.Error()))
		}
	})

	// --- Engine ---
	if strings.ToLower(cfg.Mode) != "archive" {
		if err := wireEngine(cfg, deps, logger); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	return deps, cleanup, nil
}

// wireBackends connects Postgres and Redis and builds the stores and caches
// on top of them.
func wireBackends(ctx context.Context, cfg *config.Config, deps *Dependencies, closers *[]func()) error {
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
		return fmt.Errorf("wire: postgres: %w", err)
	}
	*closers = append(*closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.SignalStore = postgres.NewSignalStore(pool)
	deps.WalletStore = postgres.NewWalletStore(pool)
	deps.TokenStore = postgres.NewTokenStore(pool)
	deps.ClusterStore = postgres.NewClusterStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pgClient.Ping

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
		return fmt.Errorf("wire: redis: %w", err)
	}
	*closers = append(*closers, func() { _ = redisClient.Close() })

	deps.MarketCache = redis.NewMarketDataCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.OnceGuard = redis.NewOnceGuard(redisClient)
	deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, cfg.Redis.StreamMaxLen)
	deps.HealthChecks["redis"] = redisClient.Ping
	return nil
}

// wireMemory builds in-process stores and caches for single-replica runs.
func wireMemory(deps *Dependencies) {
	deps.TradeStore = storemem.NewTradeStore()
	deps.SignalStore = storemem.NewSignalStore()
	deps.WalletStore = storemem.NewWalletStore()
	deps.TokenStore = storemem.NewTokenStore()
	deps.ClusterStore = storemem.NewClusterStore()
	deps.AuditStore = storemem.NewAuditStore()

	once := cachemem.NewOnceGuard()
	deps.MarketCache = cachemem.NewMarketDataCache()
	deps.RateLimiter = cachemem.NewRateLimiter()
	deps.LockManager = cachemem.NewLockManager()
	deps.OnceGuard = once
	deps.SignalBus = cachemem.NewSignalBus()
	deps.janitor = once.Cleanup
}

// wireEngine loads the threshold document and assembles the consensus
// engine with its collaborators.
func wireEngine(cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	th := consensus.DefaultThresholds()
	if cfg.Consensus.ThresholdsFile != "" {
		loaded, err := consensus.LoadThresholdsFile(cfg.Consensus.ThresholdsFile)
		if err != nil {
			return fmt.Errorf("wire: %w", err)
		}
		th = loaded
	}
	deps.Thresholds = th

	var market domain.MarketDataProvider
	if cfg.MarketData.Enabled {
		dex := dexscreener.NewClient(dexscreener.Config{
			BaseURL:           cfg.MarketData.BaseURL,
			RequestsPerMinute: cfg.MarketData.RequestsPerMinute,
			Timeout:           cfg.MarketData.Timeout.Duration,
			FailureThreshold:  cfg.MarketData.FailureThreshold,
			OpenTimeout:       cfg.MarketData.OpenTimeout.Duration,
			ChainID:           cfg.MarketData.ChainID,
		}, logger)
		market = service.NewMarketDataService(deps.MarketCache, dex, cfg.MarketData.CacheTTL.Duration, logger)
	}

	positions := monitor.NewWalletExitMonitor(deps.SignalStore, deps.TradeStore, deps.LockManager, exitMonitorConfig(cfg, th), logger)

	var enricher consensus.Enricher
	if cfg.Consensus.EnrichmentEnabled {
		enricher = service.NewEnrichmentService(deps.WalletStore, deps.SignalStore, deps.Notifier, logger)
	}

	engine, err := consensus.NewEngine(th, consensus.Deps{
		Trades:   deps.TradeStore,
		Signals:  deps.SignalStore,
		Locks:    deps.LockManager,
		Bus:      deps.SignalBus,
		Wallets:  deps.WalletStore,
		Tokens:   deps.TokenStore,
		Clusters: deps.ClusterStore,
		Market:   market,
		Once:     deps.OnceGuard,
		Notifier: deps.Notifier,
		Monitor:  positions,
		Enricher: enricher,
		Tasks:    deps.Dispatcher,
		Metrics:  deps.Metrics,
	}, consensus.Options{
		PreSignalEnabled:     cfg.Consensus.PreSignalEnabled,
		ExecutionPushEnabled: cfg.Consensus.ExecutionPushEnabled,
		EnrichmentEnabled:    cfg.Consensus.EnrichmentEnabled,
		ClusterEnabled:       cfg.Consensus.ClusterEnabled,
		LockTTL:              cfg.Consensus.LockTTL.Duration,
		LockWait:             cfg.Consensus.LockWait.Duration,
	}, logger)
	if err != nil {
		return fmt.Errorf("wire: engine: %w", err)
	}
	deps.Engine = engine

	logger.Info("wire: engine ready",
		slog.String("thresholds_version", th.Version),
		slog.Int("tiers", len(th.Tiers)),
		slog.Bool("market_data", market != nil),
	)
	return nil
}

// exitMonitorConfig takes the exit share from the threshold document and the
// timings from the app config.
func exitMonitorConfig(cfg *config.Config, th consensus.Thresholds) monitor.Config {
	return monitor.Config{
		WalletShare: th.Exit.WalletShare,
		Lookback:    cfg.Exit.Lookback.Duration,
		LockTTL:     cfg.Consensus.LockTTL.Duration,
		LockWait:    cfg.Consensus.LockWait.Duration,
	}
}
