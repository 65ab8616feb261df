package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigRequiresDatabaseAndRedis(t *testing.T) {
	t.Setenv("DB_URL", "")
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("REDIS_URL", "")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "DB_URL")

	t.Setenv("DB_URL", "postgres://localhost/accounts")
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "REDIS_URL")
}

func TestLoadConfigLayersFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
service:
  http_port: 8181
dependencies:
  postgres_url: postgres://file/accounts
  redis_url: redis://file:6379/0
  kafka_brokers: [kafka-1:9092]
tokens:
  access_ttl: 5m
outbox:
  lease: 90s
  receive_budget: 4
  embedded: true
kafka:
  topic: accounts.file
`)
	t.Setenv("DB_URL", "")
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("KAFKA_BROKERS", "kafka-a:9092, ,kafka-b:9092")
	t.Setenv("OUTBOX_POLL_INTERVAL", "15")
	t.Setenv("REFRESH_TOKEN_TTL", "48h")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.HTTPPort)
	assert.Equal(t, "postgres://file/accounts", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 48*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 90*time.Second, cfg.OutboxLease)
	assert.Equal(t, 15*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 4, cfg.OutboxReceiveBudget)
	assert.True(t, cfg.EmbeddedDispatcher)
	assert.Equal(t, "accounts.file", cfg.KafkaTopic)
	assert.Equal(t, []string{"kafka-a:9092", "kafka-b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.FailedLoginThreshold)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/accounts")
	t.Setenv("REDIS_URL", "localhost:6379")

	_, err := LoadConfig(writeConfig(t, "tokens:\n  access_ttl: soon\n"))
	assert.ErrorContains(t, err, "tokens.access_ttl")

	t.Setenv("OUTBOX_LEASE", "10s")
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "OUTBOX_LEASE")
}

func TestLoadConfigRequiresKeysWithoutEphemeralFallback(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/accounts")
	t.Setenv("REDIS_URL", "localhost:6379")
	t.Setenv("JWT_PRIVATE_KEY_PEM", "")
	t.Setenv("JWT_ALLOW_EPHEMERAL", "false")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "JWT_PRIVATE_KEY_PEM")
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "")
	assert.Equal(t, time.Minute, envDuration("TEST_DURATION", time.Minute))

	t.Setenv("TEST_DURATION", "30")
	assert.Equal(t, 30*time.Second, envDuration("TEST_DURATION", time.Minute))

	t.Setenv("TEST_DURATION", "250ms")
	assert.Equal(t, 250*time.Millisecond, envDuration("TEST_DURATION", time.Minute))

	t.Setenv("TEST_DURATION", "later")
	assert.Equal(t, time.Minute, envDuration("TEST_DURATION", time.Minute))
}
