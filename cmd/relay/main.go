// The relay server: WebSocket agent fabric with challenge-response
// admission, channel messaging, signed proposals, and the dispute court.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/agentchat/relay/internal/config"
	"github.com/agentchat/relay/internal/events"
	"github.com/agentchat/relay/internal/relay"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("AGENTCHAT_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if addr := os.Getenv("AGENTCHAT_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if key := os.Getenv("AGENTCHAT_ADMIN_KEY"); key != "" {
		cfg.Admin.Key = key
	}
	setupLogging(cfg.LogLevel)

	// Escrow and settlement hooks fan out in-process and, when configured,
	// to a Redis channel for external consumers.
	bus := events.NewBus()
	sinks := events.Tee{bus}
	if cfg.Events.RedisAddr != "" {
		sink := events.NewRedisSink(cfg.Events.RedisAddr, cfg.Events.RedisChannel)
		defer sink.Close()
		sinks = append(sinks, sink)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := relay.NewMetrics(registry)

	hub, err := relay.NewHub(cfg, sinks, metrics)
	if err != nil {
		slog.Error("hub init failed", "error", err)
		os.Exit(1)
	}
	srv := relay.NewServer(cfg, hub, registry)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown failed", "error", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
