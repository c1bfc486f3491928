package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("PROTRACK_HOST", &c.Server.Host)
	envInt("PROTRACK_PORT", &c.Server.Port)

	envStr("PROTRACK_REDIS_ADDR", &c.Queue.RedisAddr)
	envInt("PROTRACK_REDIS_DB", &c.Queue.RedisDB)
	envStr("PROTRACK_QUEUE_STREAM", &c.Queue.Stream)
	envStr("PROTRACK_QUEUE_GROUP", &c.Queue.ConsumerGroup)
	envInt("PROTRACK_WORKER_CONCURRENCY", &c.Queue.Concurrency)

	envStr("PROTRACK_EVOLUTION_URL", &c.Delivery.BaseURL)
	envStr("PROTRACK_EVOLUTION_INSTANCE", &c.Delivery.Instance)

	// Secrets: env only, never persisted in the config file.
	envStr("PROTRACK_EVOLUTION_API_KEY", &c.Delivery.APIKey)
	envStr("PROTRACK_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("PROTRACK_ANTHROPIC_API_KEY", &c.Agent.AnthropicAPIKey)

	envStr("PROTRACK_MODEL", &c.Agent.Model)
}
