package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)

	assert.Equal(t, "http://localhost:3001", cfg.Connector.URL)
	assert.Equal(t, 30*time.Second, cfg.Connector.SendTimeout)
	assert.Equal(t, 5*time.Second, cfg.Connector.ProbeTimeout)

	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, "stream", cfg.Redis.Mode)
	assert.Equal(t, "whatsapp:messages", cfg.Redis.KeyPrefix)

	assert.Equal(t, 5, cfg.Webhook.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Webhook.BaseBackoff)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Webhook.PollInterval)
	assert.Equal(t, int64(20), cfg.Webhook.BatchSize)

	assert.False(t, cfg.DLQ.Enabled)
	assert.Equal(t, "jetstream", cfg.DLQ.Backend)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090

connector:
  url: http://bridge:3001
  send_timeout: 45s

redis:
  url: redis://cache:6379/2
  mode: queue
  key_prefix: wa:msgs

webhook:
  max_attempts: 3
  base_backoff: 500ms

dlq:
  enabled: true
  backend: file
  base_path: /tmp/dlq

logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://bridge:3001", cfg.Connector.URL)
	assert.Equal(t, 45*time.Second, cfg.Connector.SendTimeout)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	assert.Equal(t, "queue", cfg.Redis.Mode)
	assert.Equal(t, "wa:msgs", cfg.Redis.KeyPrefix)
	assert.Equal(t, 3, cfg.Webhook.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Webhook.BaseBackoff)
	assert.True(t, cfg.DLQ.Enabled)
	assert.Equal(t, "file", cfg.DLQ.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RELAY_SERVER_PORT", "7070")
	t.Setenv("RELAY_REDIS_MODE", "queue")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "queue", cfg.Redis.Mode)
}

func TestLoad_InvalidMode(t *testing.T) {
	t.Setenv("RELAY_REDIS_MODE", "carousel")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.mode")
}

func TestLoad_InvalidDLQBackend(t *testing.T) {
	t.Setenv("RELAY_DLQ_BACKEND", "pigeonhole")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlq.backend")
}
