package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/storefront/internal/basket"
	"github.com/fjod/storefront/internal/basket/baskettest"
	c "github.com/fjod/storefront/internal/basket/cache"
	"github.com/fjod/storefront/internal/catalog/catalogtest"
	"github.com/fjod/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
	"gotest.tools/v3/assert"
)

type recordingDeleter struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (d *recordingDeleter) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, id)
	return d.err
}

func orderCreatedMessage(t *testing.T, basketID string) kafkaGo.Message {
	payload, err := json.Marshal(domain.OrderCreated{OrderID: "o-1", BasketID: basketID, PaymentIntentID: "pi_1"})
	require.NoError(t, err)
	return kafkaGo.Message{
		Key:     []byte("o-1"),
		Value:   payload,
		Headers: []kafkaGo.Header{{Key: "event_type", Value: []byte(domain.EventOrderCreated)}},
	}
}

func TestHandle(t *testing.T) {
	d := &recordingDeleter{}
	consumer := &Consumer{baskets: d, log: zap.NewNop()}
	ctx := context.Background()

	require.NoError(t, consumer.handle(ctx, orderCreatedMessage(t, "b1")))
	assert.DeepEqual(t, []string{"b1"}, d.deleted)

	// other event types are ignored
	other := orderCreatedMessage(t, "b2")
	other.Headers[0].Value = []byte("order.shipped")
	require.NoError(t, consumer.handle(ctx, other))
	assert.Equal(t, 1, len(d.deleted))

	broken := orderCreatedMessage(t, "b3")
	broken.Value = []byte("{")
	assert.ErrorContains(t, consumer.handle(ctx, broken), "parse order.created")

	assert.ErrorContains(t, consumer.handle(ctx, orderCreatedMessage(t, "")), "without basket_id")
}

func TestHandle_BasketAlreadyGone(t *testing.T) {
	d := &recordingDeleter{err: domain.ErrBasketNotFound}
	consumer := &Consumer{baskets: d, log: zap.NewNop()}

	require.NoError(t, consumer.handle(context.Background(), orderCreatedMessage(t, "b1")))

	d.err = errors.New("mongo down")
	assert.ErrorContains(t, consumer.handle(context.Background(), orderCreatedMessage(t, "b1")), "mongo down")
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestConsumer_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka container test in short mode")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := c.NewRedisCache(client)

	repo := baskettest.NewMemoryRepository()
	baskets := basket.NewService(repo, cache, catalogtest.NewMemoryCatalog(), zap.NewNop())

	brokers, cleanupKafka := setupKafka(t)
	defer cleanupKafka()
	topic := "order-events"
	createTopic(t, brokers, topic)

	// create basket and cache it
	b := &domain.Basket{ID: "guest-42", Items: []domain.BasketItem{{ProductID: 1, Quantity: 1}}}
	require.NoError(t, repo.SaveBasket(ctx, b))
	require.NoError(t, cache.Set(ctx, "guest-42", b))

	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(brokers),
		Topic:                  topic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	require.NoError(t, w.WriteMessages(ctx, orderCreatedMessage(t, "guest-42")))
	w.Close()

	consumer := NewConsumer(baskets, Config{Brokers: []string{brokers}, Topic: topic, GroupID: "basket-cleanup-test"}, zap.NewNop())
	defer consumer.Close()
	go consumer.Run(ctx)

	require.Eventually(t, func() bool {
		return !repo.Exists("guest-42")
	}, 15*time.Second, 500*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := cache.Get(ctx, "guest-42")
		return errors.Is(err, c.ErrCacheMiss)
	}, 15*time.Second, 500*time.Millisecond)
}
