package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.UsesPostgres())
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"
storage = "postgres"

[consensus]
lock_ttl = "15s"
lock_wait = "3s"
thresholds_file = "thresholds.yaml"
cluster_enabled = false

[archive]
enabled = true
retention_days = 14
cron = "*/30 * * * *"

[server]
port = 9090
`), 0o600))

	t.Setenv("CONSENSUS_SERVER_API_KEY", "k")
	t.Setenv("CONSENSUS_NOTIFY_EVENTS", "signal_created, signal_closed ,")
	t.Setenv("CONSENSUS_LOCK_WAIT", "1s")
	t.Setenv("CONSENSUS_EXIT_LOOKBACK", "12h")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 15*time.Second, cfg.Consensus.LockTTL.Duration)
	assert.Equal(t, time.Second, cfg.Consensus.LockWait.Duration)
	assert.False(t, cfg.Consensus.ClusterEnabled)
	assert.True(t, cfg.Consensus.PreSignalEnabled, "unset keys keep defaults")
	assert.Equal(t, "thresholds.yaml", cfg.Consensus.ThresholdsFile)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "k", cfg.Server.APIKey)
	assert.Equal(t, []string{"signal_created", "signal_closed"}, cfg.Notify.Events)
	assert.Equal(t, 12*time.Hour, cfg.Exit.Lookback.Duration)
	assert.True(t, cfg.ArchiveEnabled())
	assert.Equal(t, 14, cfg.Archive.RetentionDays)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "engine", cfg.Mode)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Storage = "sqlite"
	cfg.Consensus.LockWait = duration{20 * time.Second}
	cfg.Exit.Lookback = duration{}
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown storage "sqlite"`,
		"lock_wait must be shorter than lock_ttl",
		"exit: lookback must be > 0",
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateArchiveNeedsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.Storage = "memory"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: requires storage")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "secret"
	cfg.Server.APIKey = "key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/webhook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "pw", cfg.Postgres.Password, "original is untouched")

	out.Notify.Events[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Notify.Events[0])
}
