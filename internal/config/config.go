// Package config loads the process configuration: a JSON5 file overlaid
// with PROTRACK_* environment variables. Secrets (DSNs, API keys) come from
// the environment only and are never written to the config file.
package config

import (
	"fmt"
)

// Config is the root configuration for the protrack services.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Queue    QueueConfig    `json:"queue"`
	Delivery DeliveryConfig `json:"delivery"`
	Database DatabaseConfig `json:"database"`
	Agent    AgentConfig    `json:"agent"`
}

// ServerConfig configures the webhook ingress listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// QueueConfig configures the Redis-backed job queue.
type QueueConfig struct {
	RedisAddr     string `json:"redis_addr"`
	RedisDB       int    `json:"redis_db"`
	Stream        string `json:"stream"`
	ConsumerGroup string `json:"consumer_group"`
	MaxAttempts   int    `json:"max_attempts"`
	Concurrency   int    `json:"concurrency"`
}

// DeliveryConfig configures the reply dispatch bridge.
// APIKey comes from env PROTRACK_EVOLUTION_API_KEY only.
type DeliveryConfig struct {
	BaseURL  string `json:"base_url"`
	Instance string `json:"instance"`
	APIKey   string `json:"-"`
}

// DatabaseConfig configures Postgres.
// PostgresDSN comes from env PROTRACK_POSTGRES_DSN only.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// AgentConfig configures the nutrition agent loop.
// AnthropicAPIKey comes from env PROTRACK_ANTHROPIC_API_KEY only.
type AgentConfig struct {
	Model             string `json:"model"`
	MaxTokens         int    `json:"max_tokens"`
	MaxToolIterations int    `json:"max_tool_iterations"`
	AnthropicAPIKey   string `json:"-"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Queue: QueueConfig{
			RedisAddr:     "localhost:6379",
			Stream:        "webhooks:stream",
			ConsumerGroup: "webhooks:cg",
			MaxAttempts:   5,
			Concurrency:   4,
		},
		Agent: AgentConfig{
			MaxTokens:         4096,
			MaxToolIterations: 10,
		},
	}
}

// Validate checks settings every service needs regardless of role.
func (c *Config) Validate() error {
	if c.Queue.RedisAddr == "" {
		return fmt.Errorf("queue.redis_addr is required")
	}
	if c.Queue.Stream == "" || c.Queue.ConsumerGroup == "" {
		return fmt.Errorf("queue.stream and queue.consumer_group are required")
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1")
	}
	return nil
}

// ValidateWorker checks the settings the worker role additionally needs.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Database.PostgresDSN == "" {
		return fmt.Errorf("PROTRACK_POSTGRES_DSN environment variable is not set")
	}
	if c.Delivery.BaseURL == "" {
		return fmt.Errorf("delivery.base_url is required")
	}
	if c.Delivery.Instance == "" {
		return fmt.Errorf("delivery.instance is required")
	}
	if c.Agent.AnthropicAPIKey == "" {
		return fmt.Errorf("PROTRACK_ANTHROPIC_API_KEY environment variable is not set")
	}
	return nil
}
