package ingest

import (
	"context"
	"log/slog"

	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/resilience"
)

// EventWriter is the subset of *kafka.Producer the publisher uses.
type EventWriter interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Publisher validates events and writes them to the ingest topic.
type Publisher struct {
	writer EventWriter
	retry  resilience.RetryConfig
	logger *slog.Logger
}

func NewPublisher(writer EventWriter, attempts int) *Publisher {
	return &Publisher{
		writer: writer,
		retry:  resilience.RetryConfig{MaxAttempts: attempts},
		logger: slog.Default().With("component", "ingest-publisher"),
	}
}

// PublishDocument publishes a document event and returns its id.
func (p *Publisher) PublishDocument(ctx context.Context, name, content string) (string, error) {
	event := NewDocumentEvent(name, content)
	return event.ID, p.Publish(ctx, event)
}

// PublishNoiseWords publishes a noise-word event and returns its id.
func (p *Publisher) PublishNoiseWords(ctx context.Context, text string) (string, error) {
	event := NewNoiseWordsEvent(text)
	return event.ID, p.Publish(ctx, event)
}

// Publish validates and writes events in one batch. Nothing is written
// when any of them is invalid.
func (p *Publisher) Publish(ctx context.Context, events ...Event) error {
	batch := make([]kafka.Event, 0, len(events))
	for i := range events {
		if err := Validate(&events[i]); err != nil {
			return err
		}
		batch = append(batch, kafka.Event{
			Key:     events[i].Key(),
			Value:   events[i],
			Headers: map[string]string{"event-type": string(events[i].Type)},
		})
	}
	err := resilience.Retry(ctx, "ingest.publish", p.retry, func() error {
		return p.writer.Publish(ctx, batch...)
	})
	if err != nil {
		return apperrors.Newf(apperrors.ErrInternal, "publishing %d events: %v", len(batch), err)
	}
	for _, e := range events {
		p.logger.Info("event published", "event_id", e.ID, "type", e.Type, "name", e.Name)
	}
	return nil
}
