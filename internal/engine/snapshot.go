package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/tracing"
)

// Snapshot writes the current index to every sink. A sink that fails does
// not stop the others; their errors are joined.
func (e *Engine) Snapshot(ctx context.Context) error {
	ctx, span := tracing.Start(ctx, "engine.snapshot")
	defer span.End()

	if len(e.sinks) == 0 {
		return nil
	}
	state := e.idx.Snapshot()
	span.SetAttr("generation", state.Generation)

	var errs []error
	for _, s := range e.sinks {
		name, err := s.Sink.Save(ctx, state)
		status := "ok"
		if err != nil {
			status = "error"
			errs = append(errs, fmt.Errorf("saving snapshot to %s: %w", s.Name, err))
			e.logger.Error("snapshot failed", "sink", s.Name, "error", err)
		} else {
			e.logger.Info("snapshot saved",
				"sink", s.Name,
				"snapshot", name,
				"docs", len(state.Documents),
				"generation", state.Generation,
			)
		}
		if e.metrics != nil {
			e.metrics.SnapshotsTotal.WithLabelValues(s.Name, status).Inc()
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	e.savedGen.Store(state.Generation)
	return nil
}

// Durable reports whether applied mutations can outlive the process, either
// through the mirror or a snapshot sink.
func (e *Engine) Durable() bool {
	return e.mirror != nil || len(e.sinks) > 0
}

// Checkpoint makes every applied mutation durable. With a mirror they
// already are; without one a dirty index is snapshotted to every sink.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if e.mirror != nil || !e.Dirty() {
		return nil
	}
	if len(e.sinks) == 0 {
		return apperrors.New(apperrors.ErrInternal, "no mirror or snapshot sink to checkpoint to")
	}
	return e.Snapshot(ctx)
}

// Dirty reports whether the index changed since the last snapshot or load.
func (e *Engine) Dirty() bool {
	return e.idx.Generation() != e.savedGen.Load()
}

// StartSnapshotLoop snapshots the index every SnapshotInterval while it is
// dirty, and once more when ctx is cancelled. Close waits for the loop.
func (e *Engine) StartSnapshotLoop(ctx context.Context) {
	if len(e.sinks) == 0 || e.cfg.SnapshotInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("snapshot loop stopping, writing final snapshot")
				if e.Dirty() {
					final, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					if err := e.Snapshot(final); err != nil {
						e.logger.Error("final snapshot failed", "error", err)
					}
					cancel()
				}
				return
			case <-ticker.C:
				if e.Dirty() {
					if err := e.Snapshot(ctx); err != nil {
						e.logger.Error("periodic snapshot failed", "error", err)
					}
				}
			}
		}
	}()
}

// Close waits for a running snapshot loop, whose context the caller must
// have cancelled, to finish.
func (e *Engine) Close() error {
	e.loops.Wait()
	return nil
}
