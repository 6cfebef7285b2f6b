// Package kafka publishes and consumes JSON events with segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// MessageHandler processes one message. A nil return commits the message.
// An error is retried; once the attempts run out the consumer stops without
// committing, so the group redelivers the message after a restart.
type MessageHandler func(ctx context.Context, key, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader   messageReader
	logger   *slog.Logger
	handler  MessageHandler
	attempts int
	backoff  time.Duration
}

// NewConsumer joins cfg.ConsumerGroup on topic. A new group starts from the
// oldest retained message so the index sees the whole history.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, topic, handler, cfg.HandlerAttempts)
}

func newConsumer(r messageReader, topic string, handler MessageHandler, attempts int) *Consumer {
	return &Consumer{
		reader:   r,
		logger:   slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler:  handler,
		attempts: attempts,
		backoff:  200 * time.Millisecond,
	}
}

// Start fetches and handles messages in order until ctx is cancelled. A
// message whose handler keeps failing ends the loop with an error and stays
// uncommitted; later messages are never committed past it.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		err = resilience.Retry(ctx, "kafka.handle", resilience.RetryConfig{
			MaxAttempts:  c.attempts,
			InitialDelay: c.backoff,
			MaxDelay:     10 * c.backoff,
		}, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err(), "uncommitted_offset", msg.Offset)
				return nil
			}
			c.logger.Error("failed to process message, stopping",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return fmt.Errorf("processing message at partition %d offset %d: %w", msg.Partition, msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
