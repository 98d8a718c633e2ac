// Package cleanup removes baskets that have been turned into orders.
package cleanup

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

type BasketDeleter interface {
	Delete(ctx context.Context, basketID string) error
}

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads order.created events and deletes the basket each order was
// made from. Checkout deletes the basket itself; this covers the cases where
// that delete never happened.
type Consumer struct {
	baskets BasketDeleter
	reader  *kafka.Reader
	log     *zap.Logger
}

func NewConsumer(baskets BasketDeleter, cfg Config, log *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{baskets: baskets, reader: reader, log: log}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			c.log.Error("error reading message", zap.Error(err))
			continue
		}

		if err := c.handle(ctx, m); err != nil {
			c.log.Error("basket cleanup failed",
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn("error closing reader", zap.Error(err))
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	if eventType(m) != domain.EventOrderCreated {
		return nil
	}

	var event domain.OrderCreated
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("parse order.created: %w", err)
	}
	if event.BasketID == "" {
		return errors.New("order.created without basket_id")
	}

	err := c.baskets.Delete(ctx, event.BasketID)
	if err != nil && !errors.Is(err, domain.ErrBasketNotFound) {
		return fmt.Errorf("delete basket %s: %w", event.BasketID, err)
	}

	c.log.Debug("basket cleaned up",
		zap.String("basket_id", event.BasketID),
		zap.String("order_id", event.OrderID))
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
