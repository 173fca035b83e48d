package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CONSENSUS_* environment variable overrides, and
// returns the final Config. A missing file leaves the defaults in place. The
// returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CONSENSUS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CONSENSUS_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CONSENSUS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CONSENSUS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CONSENSUS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CONSENSUS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CONSENSUS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CONSENSUS_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CONSENSUS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CONSENSUS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CONSENSUS_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CONSENSUS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CONSENSUS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CONSENSUS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CONSENSUS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CONSENSUS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CONSENSUS_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "CONSENSUS_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CONSENSUS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CONSENSUS_S3_REGION")
	setStr(&cfg.S3.Bucket, "CONSENSUS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CONSENSUS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CONSENSUS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CONSENSUS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CONSENSUS_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "CONSENSUS_S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CONSENSUS_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CONSENSUS_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CONSENSUS_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CONSENSUS_SERVER_API_KEY")
	setInt(&cfg.Server.WebhookRateLimit, "CONSENSUS_SERVER_WEBHOOK_RATE_LIMIT")
	setDuration(&cfg.Server.WebhookRateWindow, "CONSENSUS_SERVER_WEBHOOK_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CONSENSUS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CONSENSUS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CONSENSUS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CONSENSUS_NOTIFY_EVENTS")

	// ── Market data ──
	setBool(&cfg.MarketData.Enabled, "CONSENSUS_MARKET_DATA_ENABLED")
	setStr(&cfg.MarketData.BaseURL, "CONSENSUS_MARKET_DATA_BASE_URL")
	setInt(&cfg.MarketData.RequestsPerMinute, "CONSENSUS_MARKET_DATA_REQUESTS_PER_MINUTE")
	setDuration(&cfg.MarketData.CacheTTL, "CONSENSUS_MARKET_DATA_CACHE_TTL")

	// ── Consensus ──
	setBool(&cfg.Consensus.PreSignalEnabled, "CONSENSUS_PRESIGNAL_ENABLED")
	setBool(&cfg.Consensus.ExecutionPushEnabled, "CONSENSUS_EXECUTION_PUSH_ENABLED")
	setBool(&cfg.Consensus.EnrichmentEnabled, "CONSENSUS_ENRICHMENT_ENABLED")
	setBool(&cfg.Consensus.ClusterEnabled, "CONSENSUS_CLUSTER_ENABLED")
	setDuration(&cfg.Consensus.LockTTL, "CONSENSUS_LOCK_TTL")
	setDuration(&cfg.Consensus.LockWait, "CONSENSUS_LOCK_WAIT")
	setStr(&cfg.Consensus.ThresholdsFile, "CONSENSUS_THRESHOLDS_FILE")

	// ── Exit ──
	setDuration(&cfg.Exit.Lookback, "CONSENSUS_EXIT_LOOKBACK")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CONSENSUS_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "CONSENSUS_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "CONSENSUS_ARCHIVE_CRON")

	// ── Dispatch ──
	setInt64(&cfg.Dispatch.MaxConcurrent, "CONSENSUS_DISPATCH_MAX_CONCURRENT")
	setDuration(&cfg.Dispatch.TaskTimeout, "CONSENSUS_DISPATCH_TASK_TIMEOUT")

	// ── Top-level ──
	setStr(&cfg.Storage, "CONSENSUS_STORAGE")
	setStr(&cfg.Mode, "CONSENSUS_MODE")
	setStr(&cfg.LogLevel, "CONSENSUS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
