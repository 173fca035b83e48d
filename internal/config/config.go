// Package config defines the top-level configuration for the consensus bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CONSENSUS_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	MarketData MarketDataConfig `toml:"market_data"`
	Consensus  ConsensusConfig  `toml:"consensus"`
	Exit       ExitConfig       `toml:"exit"`
	Archive    ArchiveConfig    `toml:"archive"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	// Storage selects the backing stores: "postgres" (Postgres + Redis) or
	// "memory" (in-process, single replica only).
	Storage  string `toml:"storage"`
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// StreamMaxLen caps the execution streams (approximate trim).
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	WebhookRateLimit  int      `toml:"webhook_rate_limit"`
	WebhookRateWindow duration `toml:"webhook_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MarketDataConfig configures the DexScreener fallback used when a trade
// carries no market cap or liquidity.
type MarketDataConfig struct {
	Enabled           bool     `toml:"enabled"`
	BaseURL           string   `toml:"base_url"`
	ChainID           string   `toml:"chain_id"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	Timeout           duration `toml:"timeout"`
	FailureThreshold  uint32   `toml:"failure_threshold"`
	OpenTimeout       duration `toml:"open_timeout"`
	CacheTTL          duration `toml:"cache_ttl"`
}

// ConsensusConfig holds the engine feature switches, lock timings and the
// optional threshold document path.
type ConsensusConfig struct {
	PreSignalEnabled     bool     `toml:"presignal_enabled"`
	ExecutionPushEnabled bool     `toml:"execution_push_enabled"`
	EnrichmentEnabled    bool     `toml:"enrichment_enabled"`
	ClusterEnabled       bool     `toml:"cluster_enabled"`
	LockTTL              duration `toml:"lock_ttl"`
	LockWait             duration `toml:"lock_wait"`
	// ThresholdsFile is a .toml/.yaml threshold document. Empty uses the
	// built-in defaults.
	ThresholdsFile string `toml:"thresholds_file"`
}

// ExitConfig tunes the wallet-exit position monitor.
type ExitConfig struct {
	Lookback duration `toml:"lookback"`
}

// ArchiveConfig controls trade archival to S3 and pruning.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// DispatchConfig bounds the background task dispatcher.
type DispatchConfig struct {
	MaxConcurrent int64    `toml:"max_concurrent"`
	TaskTimeout   duration `toml:"task_timeout"`
	FailureBuffer int      `toml:"failure_buffer"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "consensus",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "consensus-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			WebhookRateLimit:  600,
			WebhookRateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"signal_created", "signal_updated", "signal_closed", "signal_enriched", "presignal", "error"},
		},
		MarketData: MarketDataConfig{
			Enabled:           true,
			BaseURL:           "https://api.dexscreener.com",
			ChainID:           "solana",
			RequestsPerMinute: 240,
			Timeout:           duration{5 * time.Second},
			FailureThreshold:  5,
			OpenTimeout:       duration{30 * time.Second},
			CacheTTL:          duration{30 * time.Second},
		},
		Consensus: ConsensusConfig{
			PreSignalEnabled:     true,
			ExecutionPushEnabled: true,
			EnrichmentEnabled:    true,
			ClusterEnabled:       true,
			LockTTL:              duration{10 * time.Second},
			LockWait:             duration{2 * time.Second},
		},
		Exit: ExitConfig{
			Lookback: duration{24 * time.Hour},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 7,
			Cron:          "0 3 * * *",
		},
		Dispatch: DispatchConfig{
			MaxConcurrent: 64,
			TaskTimeout:   duration{10 * time.Second},
			FailureBuffer: 256,
		},
		Storage:  "postgres",
		Mode:     "engine",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// UsesPostgres reports whether the Postgres and Redis backends are selected.
func (c *Config) UsesPostgres() bool {
	return strings.ToLower(c.Storage) != "memory"
}

// ArchiveEnabled reports whether the archive loop runs in the current mode.
func (c *Config) ArchiveEnabled() bool {
	mode := strings.ToLower(c.Mode)
	return mode == "archive" || (mode == "full" && c.Archive.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	switch strings.ToLower(c.Storage) {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: postgres, memory)", c.Storage))
	}

	if c.UsesPostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.ArchiveEnabled() {
		if !c.UsesPostgres() {
			errs = append(errs, "archive: requires storage = \"postgres\"")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron must have 5 fields, got %q", c.Archive.Cron))
		}
	}

	if mode != "archive" {
		if c.Consensus.LockTTL.Duration <= 0 {
			errs = append(errs, "consensus: lock_ttl must be > 0")
		}
		if c.Consensus.LockWait.Duration < 0 {
			errs = append(errs, "consensus: lock_wait must be >= 0")
		}
		if c.Consensus.LockWait.Duration >= c.Consensus.LockTTL.Duration {
			errs = append(errs, "consensus: lock_wait must be shorter than lock_ttl")
		}
		if c.Exit.Lookback.Duration <= 0 {
			errs = append(errs, "exit: lookback must be > 0")
		}
		if c.Dispatch.MaxConcurrent < 1 {
			errs = append(errs, "dispatch: max_concurrent must be >= 1")
		}
		if c.Dispatch.TaskTimeout.Duration <= 0 {
			errs = append(errs, "dispatch: task_timeout must be > 0")
		}
		if c.MarketData.Enabled && c.MarketData.RequestsPerMinute < 1 {
			errs = append(errs, "market_data: requests_per_minute must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.WebhookRateLimit > 0 && c.Server.WebhookRateWindow.Duration <= 0 {
			errs = append(errs, "server: webhook_rate_window must be > 0 when webhook_rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
