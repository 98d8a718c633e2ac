// Package outbox publishes committed outbox rows to Kafka.
package outbox

import (
	"context"
	"time"

	"github.com/fjod/storefront/internal/store"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const batchSize = 100

type EventStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*store.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id string) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Relay polls the outbox and publishes each event at least once. Consumers
// must tolerate duplicates.
type Relay struct {
	events   EventStore
	writer   MessageWriter
	interval time.Duration
	log      *zap.Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}
}

func NewRelay(events EventStore, writer MessageWriter, interval time.Duration, log *zap.Logger) *Relay {
	return &Relay{events: events, writer: writer, interval: interval, log: log}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.publishPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) Close() {
	if err := r.writer.Close(); err != nil {
		r.log.Warn("error closing outbox writer", zap.Error(err))
	}
}

// publishPending returns how many events were published and marked.
func (r *Relay) publishPending(ctx context.Context) int {
	events, err := r.events.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		r.log.Error("failed to fetch outbox events", zap.Error(err))
		return 0
	}

	published := 0
	for _, event := range events {
		if err := r.writer.WriteMessages(ctx, message(event)); err != nil {
			// keep order per aggregate: stop at the first failure and retry next tick
			r.log.Error("failed to publish outbox event", zap.String("event_id", event.ID), zap.Error(err))
			return published
		}
		if err := r.events.MarkEventAsProcessed(ctx, event.ID); err != nil {
			r.log.Error("failed to mark outbox event processed", zap.String("event_id", event.ID), zap.Error(err))
			return published
		}
		published++
	}
	return published
}

func message(e *store.OutboxEvent) kafka.Message {
	return kafka.Message{
		Key:   []byte(e.AggregateID),
		Value: e.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.EventType)},
			{Key: "event_id", Value: []byte(e.ID)},
		},
	}
}
