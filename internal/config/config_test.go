package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Queue.Stream != "webhooks:stream" || cfg.Queue.MaxAttempts != 5 {
		t.Errorf("queue defaults = %+v", cfg.Queue)
	}
}

func TestLoad_FileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	// JSON5: comments and trailing commas are allowed.
	content := `{
		// ingress
		server: {port: 9090},
		queue: {concurrency: 8,},
		delivery: {base_url: "http://bridge:8080", instance: "main"},
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PROTRACK_WORKER_CONCURRENCY", "2")
	t.Setenv("PROTRACK_EVOLUTION_API_KEY", "sekrit")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, file value expected", cfg.Server.Port)
	}
	if cfg.Queue.Concurrency != 2 {
		t.Errorf("concurrency = %d, env must win over file", cfg.Queue.Concurrency)
	}
	if cfg.Delivery.APIKey != "sekrit" {
		t.Errorf("api key = %q, want env-only secret", cfg.Delivery.APIKey)
	}
	if cfg.Delivery.BaseURL != "http://bridge:8080" {
		t.Errorf("base url = %q", cfg.Delivery.BaseURL)
	}
}

func TestValidateWorker(t *testing.T) {
	cfg := Default()
	cfg.Database.PostgresDSN = "postgres://localhost/protrack"
	cfg.Delivery.BaseURL = "http://bridge:8080"
	cfg.Delivery.Instance = "main"
	cfg.Agent.AnthropicAPIKey = "key"

	if err := cfg.ValidateWorker(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	t.Run("missing dsn", func(t *testing.T) {
		c := *cfg
		c.Database.PostgresDSN = ""
		if err := c.ValidateWorker(); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("missing delivery instance", func(t *testing.T) {
		c := *cfg
		c.Delivery.Instance = ""
		if err := c.ValidateWorker(); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("zero concurrency", func(t *testing.T) {
		c := *cfg
		c.Queue.Concurrency = 0
		if err := c.Validate(); err == nil {
			t.Error("expected error")
		}
	})
}
