package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/protrackhq/protrack/internal/agent"
	"github.com/protrackhq/protrack/internal/config"
	"github.com/protrackhq/protrack/internal/delivery"
	"github.com/protrackhq/protrack/internal/providers"
	"github.com/protrackhq/protrack/internal/queue"
	"github.com/protrackhq/protrack/internal/store/pg"
	"github.com/protrackhq/protrack/internal/users"
	"github.com/protrackhq/protrack/internal/worker"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the webhook processing worker pool",
		Run: func(cmd *cobra.Command, args []string) {
			runWorker()
		},
	}
}

func runWorker() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateWorker(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, db, err := pg.NewPGStores(cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	q, err := queue.New(ctx, queue.Config{
		Addr:        cfg.Queue.RedisAddr,
		DB:          cfg.Queue.RedisDB,
		Stream:      cfg.Queue.Stream,
		Group:       cfg.Queue.ConsumerGroup,
		MaxAttempts: cfg.Queue.MaxAttempts,
	})
	if err != nil {
		slog.Error("failed to connect queue broker", "error", err)
		os.Exit(1)
	}
	defer q.Close()

	provider := providers.NewAnthropicProvider(cfg.Agent.AnthropicAPIKey,
		providers.WithAnthropicModel(cfg.Agent.Model))

	nutritionAgent := agent.New(provider, stores.Users, stores.Entries, agent.Options{
		Model:             cfg.Agent.Model,
		MaxTokens:         cfg.Agent.MaxTokens,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
	})

	sender := delivery.NewClient(cfg.Delivery.BaseURL, cfg.Delivery.APIKey, cfg.Delivery.Instance)
	resolver := users.NewResolver(stores.Users)
	w := worker.New(resolver, nutritionAgent, sender)

	consumerName, err := os.Hostname()
	if err != nil || consumerName == "" {
		consumerName = "protrack-worker"
	}

	slog.Info("worker pool starting",
		"consumer", consumerName,
		"concurrency", cfg.Queue.Concurrency,
		"stream", cfg.Queue.Stream)

	if err := q.Consume(ctx, consumerName, cfg.Queue.Concurrency, w.Process); err != nil {
		slog.Error("worker pool failed", "error", err)
		os.Exit(1)
	}
	slog.Info("worker pool stopped")
}
