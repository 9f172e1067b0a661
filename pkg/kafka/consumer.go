// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Messages carry JSON; the consumer hands each one to a
// MessageHandler and commits offsets only once a checkpoint has made the
// handled messages durable.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
)

// MessageHandler is a callback invoked for each Kafka message. An error is
// logged and the message is still acknowledged, so a bad message cannot
// stall the partition; handlers that need a retry path publish to a dead
// letter topic themselves.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// CheckpointFunc makes everything handled so far durable. Offsets are
// committed only after it succeeds.
type CheckpointFunc func(ctx context.Context) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader     Reader
	logger     *slog.Logger
	handler    MessageHandler
	checkpoint CheckpointFunc
	every      int
	interval   time.Duration
	pending    []kafka.Message
	lastSync   time.Time
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return NewConsumerWithReader(r, topic, handler)
}

// NewConsumerWithReader is NewConsumer over an existing reader.
func NewConsumerWithReader(r Reader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		logger:  logger.WithComponent("kafka-consumer").With("topic", topic),
		handler: handler,
	}
}

// SetCheckpoint installs fn to run after every n handled messages, and
// after interval has passed with messages pending. Without a checkpoint
// every message is committed as soon as it is handled.
func (c *Consumer) SetCheckpoint(fn CheckpointFunc, n int, interval time.Duration) {
	c.checkpoint = fn
	c.every = n
	c.interval = interval
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled. Pending messages are checkpointed before it returns.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	c.lastSync = time.Now()
	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return c.sync(context.WithoutCancel(ctx))
		}

		msg, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if err := c.sync(ctx); err != nil {
					c.logger.Error("checkpoint failed", "error", err)
				}
				continue
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
		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			c.logger.Error("failed to process message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
		c.pending = append(c.pending, msg)
		if c.due() {
			if err := c.sync(ctx); err != nil {
				c.logger.Error("checkpoint failed", "error", err)
			}
		}
	}
}

// fetch waits for the next message, but no longer than the checkpoint
// interval while messages are pending.
func (c *Consumer) fetch(ctx context.Context) (kafka.Message, error) {
	if c.checkpoint == nil || c.interval <= 0 || len(c.pending) == 0 {
		return c.reader.FetchMessage(ctx)
	}
	wait := max(c.interval-time.Since(c.lastSync), time.Millisecond)
	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return c.reader.FetchMessage(fetchCtx)
}

func (c *Consumer) due() bool {
	if c.checkpoint == nil {
		return true
	}
	if c.every > 0 && len(c.pending) >= c.every {
		return true
	}
	return c.interval > 0 && time.Since(c.lastSync) >= c.interval
}

// sync runs the checkpoint and commits the offsets it covered. On failure
// the offsets stay pending and the messages are redelivered after a
// restart.
func (c *Consumer) sync(ctx context.Context) error {
	c.lastSync = time.Now()
	if len(c.pending) == 0 {
		return nil
	}
	if c.checkpoint != nil {
		if err := c.checkpoint(ctx); err != nil {
			return fmt.Errorf("checkpointing %d messages: %w", len(c.pending), err)
		}
	}
	if err := c.reader.CommitMessages(ctx, c.pending...); err != nil {
		return fmt.Errorf("committing %d offsets: %w", len(c.pending), err)
	}
	c.logger.Debug("offsets committed", "messages", len(c.pending))
	c.pending = c.pending[:0]
	return nil
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
