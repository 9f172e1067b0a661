package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
)

// ContentTypeHeader is set on every produced message.
const ContentTypeHeader = "content-type"

// Event is one message to publish. Key picks the partition, so every
// event for a document lands on the same one and stays ordered.
type Event struct {
	Key     string
	Value   any
	Headers map[string]string
}

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer Writer
	topic  string
	now    func() time.Time
	logger *slog.Logger
}

// NewProducer writes synchronously to topic, waiting for every in-sync
// replica. Batches are snappy-compressed.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	log := logger.WithComponent("kafka-producer").With("topic", topic)
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	return NewProducerWithWriter(w, topic)
}

func NewProducerWithWriter(w Writer, topic string) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		now:    time.Now,
		logger: logger.WithComponent("kafka-producer").With("topic", topic),
	}
}

// Publish encodes events as JSON and writes them in one call. Nothing is
// written if any value fails to encode. Broker failures are ErrNetwork,
// or ErrNetworkTimeout when ctx expired first.
func (p *Producer) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(events))
	for i, ev := range events {
		msg, err := p.encode(ev)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		p.logger.Debug("published", "count", len(msgs))
		return nil
	}

	failed := len(msgs)
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		failed = werrs.Count()
	}
	p.logger.Error("publish failed", "failed", failed, "count", len(msgs), "error", err)

	kind := qerrors.ErrNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		kind = qerrors.ErrNetworkTimeout
	}
	return qerrors.Wrap(kind, err, fmt.Sprintf("publishing %d of %d events to %s", failed, len(msgs), p.topic))
}

func (p *Producer) encode(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev.Value)
	if err != nil {
		return kafka.Message{}, qerrors.Wrap(qerrors.ErrSerialisation, err, "encoding event "+ev.Key)
	}
	msg := kafka.Message{
		Key:     []byte(ev.Key),
		Value:   value,
		Time:    p.now(),
		Headers: []kafka.Header{{Key: ContentTypeHeader, Value: []byte("application/json")}},
	}
	keys := make([]string, 0, len(ev.Headers))
	for k := range ev.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(ev.Headers[k])})
	}
	return msg, nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
