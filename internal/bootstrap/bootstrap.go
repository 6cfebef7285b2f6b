// Package bootstrap assembles an Engine and its backing services from
// configuration for the docfinder commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/searchcache"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
)

// Runtime is a loaded engine together with the clients it depends on.
type Runtime struct {
	Engine  *engine.Engine
	Health  *health.Checker
	Metrics *metrics.Metrics
	closers []func() error
	logger  *slog.Logger
}

// Open connects every enabled backing service, registers health checks and
// loads the index. PostgreSQL and MinIO are required once enabled; Redis is
// optional and the engine runs uncached when it cannot be reached.
func Open(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Runtime, error) {
	rt := &Runtime{
		Health:  health.NewChecker(),
		Metrics: metrics.New(reg),
		logger:  slog.Default().With("component", "bootstrap"),
	}
	opts := engine.Options{Metrics: rt.Metrics}

	if cfg.Indexer.SnapshotDir != "" {
		opts.Sinks = append(opts.Sinks, engine.NamedSink{
			Name: "file",
			Sink: segment.NewWriter(cfg.Indexer.SnapshotDir, cfg.Indexer.SnapshotsToKeep),
		})
	}

	if cfg.Blob.Enabled {
		client, err := store.NewMinioClient(cfg.Blob)
		if err != nil {
			return nil, rt.fail(err)
		}
		blob := store.NewBlob(client, cfg.Blob.Bucket, cfg.Blob.Prefix, cfg.Indexer.SnapshotsToKeep)
		if err := blob.EnsureBucket(ctx); err != nil {
			return nil, rt.fail(err)
		}
		opts.Sinks = append(opts.Sinks, engine.NamedSink{Name: "blob", Sink: blob})
		rt.Health.Register("blob", health.OptionalPingCheck(func(ctx context.Context) error {
			_, err := client.BucketExists(ctx, cfg.Blob.Bucket)
			return err
		}))
	}

	if cfg.Postgres.Enabled {
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, rt.fail(err)
		}
		rt.closers = append(rt.closers, client.Close)
		mirror := store.NewPostgres(client)
		if err := mirror.Migrate(ctx); err != nil {
			return nil, rt.fail(err)
		}
		opts.Mirror = mirror
		rt.Health.Register("postgres", health.PingCheck(client.Ping))
	}

	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			rt.logger.Warn("redis unavailable, running without result cache", "error", err)
		} else {
			rt.closers = append(rt.closers, client.Close)
			breaker := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, _, to resilience.State) {
					rt.Metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				},
			})
			opts.Cache = searchcache.New(client, cfg.Redis.CacheTTL, breaker)
			rt.Health.Register("redis", health.OptionalPingCheck(client.Ping))
		}
	}

	rt.Engine = engine.New(cfg.Indexer, opts)
	rt.Health.Register("index", func(context.Context) health.ComponentHealth {
		s := rt.Engine.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents, generation %d", s.Documents, s.Generation),
		}
	})
	if err := rt.Engine.Load(ctx); err != nil {
		return nil, rt.fail(err)
	}
	return rt, nil
}

// Persist writes a snapshot when the engine has no mirror to keep its
// changes, so one-shot commands do not lose them.
func (rt *Runtime) Persist(ctx context.Context, cfg *config.Config) error {
	if cfg.Postgres.Enabled || !rt.Engine.Dirty() {
		return nil
	}
	return rt.Engine.Snapshot(ctx)
}

// Close stops the engine and closes every client Open created.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Engine != nil {
		errs = append(errs, rt.Engine.Close())
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	return errors.Join(errs...)
}

func (rt *Runtime) fail(err error) error {
	if cerr := rt.Close(); cerr != nil {
		rt.logger.Error("closing after failed start", "error", cerr)
	}
	return err
}
