package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/musink/musink/pkg/accounts"
	"github.com/musink/musink/pkg/logging"
	"github.com/musink/musink/worker/internal/config"
	"github.com/musink/musink/worker/internal/hubconn"
	"github.com/musink/musink/worker/internal/playlist"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := logging.Setup(os.Stdout)

	slog.Info("musink-worker starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logging.SetLevel(level, cfg.Worker.LogLevel) //nolint:errcheck // validated by Load

	w := cfg.Worker
	slog.Info("config loaded",
		"hub_url", w.HubURL,
		"category", w.Category,
		"max_jobs", w.MaxJobs,
		"job_timeout", w.JobTimeout,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Log level is the only setting applied without a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(c *config.Config) {
			logging.SetLevel(level, c.Worker.LogLevel) //nolint:errcheck
		})
		if err != nil {
			slog.Warn("config watch stopped", "err", err)
		}
	}()

	builder := playlist.New(accounts.NewSpotify(w.AccountOptions()), w.JobTimeout)
	client := hubconn.New(w.HubURL, w.Category, builder.Handle, hubconn.Options{MaxJobs: w.MaxJobs})

	client.Run(ctx)
	slog.Info("musink-worker stopped")
}
