package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/musink/musink/pkg/accounts"
	"github.com/musink/musink/pkg/logging"
	"github.com/musink/musink/server/internal/alerts"
	"github.com/musink/musink/server/internal/api"
	"github.com/musink/musink/server/internal/auth"
	"github.com/musink/musink/server/internal/config"
	"github.com/musink/musink/server/internal/dispatch"
	"github.com/musink/musink/server/internal/groups"
	"github.com/musink/musink/server/internal/health"
	"github.com/musink/musink/server/internal/metrics"
	"github.com/musink/musink/server/internal/registry"
	"github.com/musink/musink/server/internal/router"
	"github.com/musink/musink/server/internal/tokens"
	"github.com/musink/musink/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := logging.Setup(os.Stdout)

	slog.Info("musink-hub starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logging.SetLevel(level, cfg.Server.LogLevel) //nolint:errcheck // validated by Load

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"rate_limit", cfg.Server.RateLimit.PerSecond,
		"alert_rules", len(cfg.Server.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Core hub state.
	reg := registry.New()
	grps := groups.New()
	disp := dispatch.New()
	m := metrics.New()

	spotify := accounts.NewSpotify(cfg.Server.Accounts.Options())
	rt := router.New(router.Deps{
		Registry:   reg,
		Groups:     grps,
		Dispatcher: disp,
		Tokens:     tokens.New(reg, spotify, m),
		Accounts:   spotify,
		Metrics:    m,
	})

	tr := cfg.Server.Transport
	hub := ws.New(rt, ws.Options{
		SendBuffer:      tr.SendBuffer,
		MaxMessageBytes: tr.MaxMessageBytes,
		PingPeriod:      tr.PingPeriod,
		PongWait:        tr.PongWait,
		WriteTimeout:    tr.WriteTimeout,
		RatePerSecond:   cfg.Server.RateLimit.PerSecond,
		RateBurst:       cfg.Server.RateLimit.Burst,
	})
	go hub.Run(ctx)

	m.SetGauges(metrics.Gauges{
		Clients:     reg.Len,
		Groups:      grps.Len,
		Connections: hub.Count,
		Workers: func() map[string]int {
			out := make(map[string]int, len(dispatch.Categories))
			for _, c := range dispatch.Categories {
				out[string(c)] = disp.Size(c)
			}
			return out
		},
	})

	// Alerts engine: evaluates rules against the metrics snapshot.
	alertEngine := alerts.New(cfg.Server.Alerts)
	go alertEngine.Run(ctx, cfg.Server.Alerts.Interval, func() map[string]float64 {
		snap := m.Snapshot()
		slog.Debug("alerts: evaluating", "metrics", snap.String())
		return snap.Fields()
	})

	// Config hot reload: log level and alert rules.
	go func() {
		err := config.Watch(ctx, *configPath, func(c *config.Config) {
			logging.SetLevel(level, c.Server.LogLevel) //nolint:errcheck // validated by Load
			alertEngine.SetConfig(c.Server.Alerts)
			slog.Info("config reloaded", "log_level", c.Server.LogLevel, "alert_rules", len(c.Server.Alerts.Rules))
		})
		if err != nil {
			slog.Warn("config watch stopped", "err", err)
		}
	}()

	// gRPC health with optional API key authentication.
	a := cfg.Server.Auth
	grpcSrv := grpc.NewServer(
		grpc.UnaryInterceptor(auth.APIKeyInterceptor(a.Mode, a.EffectiveHeader(), a.Key())),
		grpc.StreamInterceptor(auth.APIKeyStreamInterceptor(a.Mode, a.EffectiveHeader(), a.Key())),
	)
	hs := health.New()
	hs.Watch(disp)
	hs.Register(grpcSrv)

	lis, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.ListenHost, fmt.Sprint(cfg.Server.GRPCPort)))
	if err != nil {
		slog.Error("failed to listen on gRPC port",
			"port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("gRPC health listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	// Combined HTTP server: WebSocket hub, admin API and metrics on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/ws", hub)
	httpMux.Handle("/api/", auth.Middleware(a.Mode, a.EffectiveHeader(), a.Key(), api.New(api.Deps{
		Registry:   reg,
		Groups:     grps,
		Dispatcher: disp,
		Metrics:    m,
		Alerts:     alertEngine,
	})))
	httpMux.Handle("/metrics", m)

	httpSrv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.ListenHost, fmt.Sprint(cfg.Server.HTTPPort)),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("musink-hub shutting down")
	hs.Shutdown()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	grpcSrv.GracefulStop()
	alertEngine.Wait()
}
