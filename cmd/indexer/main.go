package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging)
	if err := run(cfg); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("starting indexer service",
		"postgres", cfg.Postgres.Enabled,
		"redis", cfg.Redis.Enabled,
		"blob", cfg.Blob.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer, map[string]http.Handler{
			"/health/live":  rt.Health.LiveHandler(),
			"/health/ready": middleware.Timeout(6 * time.Second)(rt.Health.ReadyHandler()),
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	// consumed events are committed only once durable
	if !rt.Engine.Durable() {
		return errors.New("indexer needs postgres, a snapshot dir or blob storage enabled")
	}
	rt.Engine.StartSnapshotLoop(ctx)

	limiter := rate.NewLimiter(rate.Limit(cfg.Ingest.EventsPerSecond), cfg.Ingest.Burst)
	if cfg.Ingest.EventsPerSecond <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	consumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.DocumentIngest,
		ingest.Handler(rt.Engine, limiter, rt.Metrics),
	)
	defer consumer.Close()

	stats := rt.Engine.Stats()
	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", cfg.Kafka.ConsumerGroup,
		"documents", stats.Documents,
		"generation", stats.Generation,
	)

	err = consumer.Start(ctx)
	// ends the snapshot loop, which writes a final snapshot
	stop()
	if err != nil {
		return fmt.Errorf("consuming %s: %w", cfg.Kafka.Topics.DocumentIngest, err)
	}

	slog.Info("indexer service stopped")
	return nil
}
