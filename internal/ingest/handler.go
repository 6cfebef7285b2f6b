package ingest

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/tracing"
	"golang.org/x/time/rate"
)

// Indexer is the part of the engine events are applied to. Checkpoint must
// make every applied event durable before it returns.
type Indexer interface {
	AddDocument(ctx context.Context, name, content string) error
	AddNoiseWords(ctx context.Context, text string) error
	Checkpoint(ctx context.Context) error
}

// Handler returns a MessageHandler applying ingest events to idx. Each
// event first waits for limiter, when one is given. Undecodable and invalid
// events are logged and committed so they cannot block the partition.
// Engine and checkpoint failures are returned so the event stays
// uncommitted.
func Handler(idx Indexer, limiter *rate.Limiter, m *metrics.Metrics) kafka.MessageHandler {
	log := logger.WithComponent("ingest-handler")
	count := func(t EventType, status string) {
		if m != nil {
			m.IngestEventsTotal.WithLabelValues(string(t), status).Inc()
		}
	}

	return func(ctx context.Context, key, value []byte) error {
		event, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			log.Error("failed to decode ingest event", "key", string(key), "error", err)
			count("unknown", "malformed")
			return nil
		}
		if err := Validate(&event); err != nil {
			log.Error("rejecting invalid ingest event", "event_id", event.ID, "error", err)
			count(event.Type, "invalid")
			return nil
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("waiting for ingest rate limit: %w", err)
			}
		}

		ctx = logger.WithEventID(ctx, event.ID)
		ctx, span := tracing.Start(ctx, "ingest.event")
		span.SetAttr("event_id", event.ID)
		span.SetAttr("type", string(event.Type))
		defer span.End()

		switch event.Type {
		case EventDocument:
			err = idx.AddDocument(ctx, event.Name, event.Content)
		case EventNoiseWords:
			err = idx.AddNoiseWords(ctx, event.Content)
		}
		if errors.Is(err, apperrors.ErrInvalidInput) {
			logger.FromContext(ctx).Error("engine rejected ingest event", "error", err)
			count(event.Type, "invalid")
			return nil
		}
		if err != nil {
			count(event.Type, "error")
			return fmt.Errorf("applying %s event %s: %w", event.Type, event.ID, err)
		}
		if err := idx.Checkpoint(ctx); err != nil {
			count(event.Type, "error")
			return fmt.Errorf("checkpointing %s event %s: %w", event.Type, event.ID, err)
		}
		count(event.Type, "ok")
		logger.FromContext(ctx).Info("ingest event applied", "type", event.Type, "name", event.Name)
		return nil
	}
}
