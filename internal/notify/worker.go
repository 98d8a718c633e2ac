package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fjod/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
}

// Sender delivers one notification to the buyer.
type Sender interface {
	Send(ctx context.Context, kind Kind, order *domain.Order) error
}

// LogSender only records what would have been sent.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, kind Kind, order *domain.Order) error {
	s.log.Info("notification sent",
		zap.String("kind", string(kind)),
		zap.String("order_id", order.ID),
		zap.String("to", order.BuyerEmail),
		zap.String("total", order.Total().StringFixed(2)))
	return nil
}

type WorkerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type Worker struct {
	reader *kafka.Reader
	orders OrderReader
	sender Sender
	log    *zap.Logger
}

func NewWorker(orders OrderReader, sender Sender, cfg WorkerConfig, log *zap.Logger) *Worker {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Worker{reader: reader, orders: orders, sender: sender, log: log}
}

func (w *Worker) Run(ctx context.Context) {
	for {
		m, err := w.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			w.log.Error("error reading message", zap.Error(err))
			continue
		}

		if err := w.handle(ctx, m.Value); err != nil {
			w.log.Error("notification failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (w *Worker) Close() {
	if err := w.reader.Close(); err != nil {
		w.log.Warn("error closing reader", zap.Error(err))
	}
}

func (w *Worker) handle(ctx context.Context, value []byte) error {
	var job Job
	if err := json.Unmarshal(value, &job); err != nil {
		return fmt.Errorf("parse notification job: %w", err)
	}
	switch job.Kind {
	case KindOrderConfirmation, KindPaymentFailed:
	default:
		return fmt.Errorf("unknown notification kind %q", job.Kind)
	}

	order, err := w.orders.GetOrder(ctx, job.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		// replaced by a later checkout on the same intent
		w.log.Info("notification for missing order dropped", zap.String("order_id", job.OrderID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", job.OrderID, err)
	}

	return w.sender.Send(ctx, job.Kind, order)
}
