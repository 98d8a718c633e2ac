// Package notify queues buyer notifications on Kafka and delivers them from
// a worker. Email delivery itself lives outside this service.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Kind string

const (
	KindOrderConfirmation Kind = "order_confirmation"
	KindPaymentFailed     Kind = "payment_failed"
)

type Job struct {
	Kind       Kind      `json:"kind"`
	OrderID    string    `json:"order_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaNotifier struct {
	writer MessageWriter
	log    *zap.Logger
}

func NewKafkaNotifier(brokers []string, topic string, log *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: newWriter(brokers, topic, log), log: log}
}

// newWriter batches in the background: WriteMessages returns once the job is
// buffered, so a slow broker never holds up the webhook that settled the
// order. Delivery failures surface through Completion.
func newWriter(brokers []string, topic string, log *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range messages {
				log.Warn("notification not delivered", zap.String("order_id", string(m.Key)), zap.Error(err))
			}
		},
	}
}

// Enqueue buffers a job keyed by order id. The caller decides what a
// failure means; the reconciler only logs it.
func (n *KafkaNotifier) Enqueue(ctx context.Context, kind Kind, orderID string) error {
	payload, err := json.Marshal(Job{Kind: kind, OrderID: orderID, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal notification job: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(orderID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s for order %s: %w", kind, orderID, err)
	}

	n.log.Debug("notification enqueued", zap.String("kind", string(kind)), zap.String("order_id", orderID))
	return nil
}

// Close flushes buffered jobs.
func (n *KafkaNotifier) Close() {
	if err := n.writer.Close(); err != nil {
		n.log.Warn("error closing notification writer", zap.Error(err))
	}
}
