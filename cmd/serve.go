package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/protrackhq/protrack/internal/config"
	"github.com/protrackhq/protrack/internal/ingress"
	"github.com/protrackhq/protrack/internal/queue"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook ingress server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	server := ingress.NewServer(cfg.Server.Host, cfg.Server.Port, q)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining ingress")
	case err := <-errCh:
		if err != nil {
			slog.Error("ingress server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("ingress shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("ingress stopped")
}
