// Package config loads relay configuration from defaults, an optional
// YAML file and RELAY_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Connector ConnectorConfig `mapstructure:"connector"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	DLQ       DLQConfig       `mapstructure:"dlq"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type ConnectorConfig struct {
	URL          string        `mapstructure:"url"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Mode      string `mapstructure:"mode"` // "stream" (default) or "queue"
	KeyPrefix string `mapstructure:"key_prefix"`
}

type WebhookConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int64         `mapstructure:"batch_size"`
}

type DLQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Backend  string `mapstructure:"backend"`   // "jetstream" (default) or "file"
	BasePath string `mapstructure:"base_path"` // Only used for file backend
	NatsURL  string `mapstructure:"nats_url"`  // Only used for jetstream backend
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("connector.url", "http://localhost:3001")
	v.SetDefault("connector.send_timeout", "30s")
	v.SetDefault("connector.probe_timeout", "5s")
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("redis.mode", "stream")
	v.SetDefault("redis.key_prefix", "whatsapp:messages")
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.base_backoff", "1s")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.poll_interval", "2s")
	v.SetDefault("webhook.batch_size", 20)
	v.SetDefault("dlq.enabled", false)
	v.SetDefault("dlq.backend", "jetstream")
	v.SetDefault("dlq.base_path", "/var/lib/whatsrelay/dlq")
	v.SetDefault("dlq.nats_url", "nats://localhost:4222")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/whatsrelay")
	}

	// Environment variables override (RELAY_SERVER_PORT, etc.)
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Redis.Mode != "stream" && cfg.Redis.Mode != "queue" {
		return nil, fmt.Errorf("invalid redis.mode %q (want stream or queue)", cfg.Redis.Mode)
	}
	if cfg.DLQ.Backend != "jetstream" && cfg.DLQ.Backend != "file" {
		return nil, fmt.Errorf("invalid dlq.backend %q (want jetstream or file)", cfg.DLQ.Backend)
	}

	return &cfg, nil
}
