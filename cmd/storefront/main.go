package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/admin"
	"github.com/fjod/storefront/internal/basket"
	"github.com/fjod/storefront/internal/basket/cache"
	"github.com/fjod/storefront/internal/basket/cleanup"
	"github.com/fjod/storefront/internal/basket/repository"
	"github.com/fjod/storefront/internal/config"
	api "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/idempotency"
	"github.com/fjod/storefront/internal/notify"
	"github.com/fjod/storefront/internal/order"
	"github.com/fjod/storefront/internal/outbox"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/reconcile"
	"github.com/fjod/storefront/internal/store"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/fjod/storefront/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const fakeWebhookSecret = "whsec_local"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	zl.Info("storefront starting", zap.String("store", string(cfg.Store.Driver)), zap.String("gateway", cfg.PaymentGateway))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, "storefront", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracer: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(tctx); err != nil {
			zl.Warn("tracer shutdown error", zap.Error(err))
		}
	}()

	// Orders and catalog
	st, err := store.Open(ctx, cfg.Store, zl)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.RunMigrations(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	zl.Info("database migrations completed")

	// Baskets
	mongoDB, err := repository.Connect(ctx, repository.MongoConfig{
		URI:            cfg.MongoURI,
		Database:       cfg.MongoDBName,
		ConnectTimeout: cfg.MongoConnectTimeout,
	})
	if err != nil {
		return err
	}
	defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()
	baskets := repository.NewMongoRepository(mongoDB)
	if err := baskets.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create basket indexes: %w", err)
	}
	zl.Info("connected to mongodb", zap.String("db", cfg.MongoDBName))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}

	basketService := basket.NewService(baskets, cache.NewRedisCache(redisClient), st, zl)

	// Payments
	gateway, webhookSecret := newGateway(cfg, zl)
	notifier := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.NotificationsTopic, zl)
	defer notifier.Close()

	handlers := api.Handlers{
		Baskets:  api.NewBasketHandler(basketService, cfg.RequestTimeout, zl),
		Payments: api.NewPaymentHandler(payment.NewSynchronizer(basketService, st, gateway, cfg.Currency, zl), cfg.RequestTimeout, zl),
		Orders:   api.NewOrdersHandler(order.NewService(basketService, st, st, gateway, zl), cfg.RequestTimeout, zl),
		Webhooks: api.NewWebhookHandler(
			payment.NewWebhookVerifier(webhookSecret),
			reconcile.NewReconciler(st, notifier, zl),
			idempotency.NewClaims(redisClient, "webhook", idempotency.DefaultTTL, cfg.WebhookClaimLease),
			cfg.RequestTimeout, zl),
	}

	// Background workers
	relay := outbox.NewRelay(st, outbox.NewKafkaWriter(cfg.KafkaBrokers, cfg.OrderEventsTopic), cfg.OutboxInterval, zl)
	cleaner := cleanup.NewConsumer(basketService, cleanup.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.OrderEventsTopic,
		GroupID: cfg.GroupID("basket-cleanup"),
	}, zl)
	worker := notify.NewWorker(st, notify.NewLogSender(zl), notify.WorkerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.NotificationsTopic,
		GroupID: cfg.GroupID("notifications"),
	}, zl)

	adminServer := admin.NewServer(map[string]admin.Check{
		"database": st.Ping,
		"mongodb":  func(ctx context.Context) error { return mongoDB.Client().Ping(ctx, nil) },
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}, zl)

	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, fn := range []func(context.Context){relay.Run, cleaner.Run, worker.Run} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(workersCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		adminServer.Watch(workersCtx, 10*time.Second)
	}()

	adminLis, err := net.Listen("tcp", cfg.AdminGRPCAddr)
	if err != nil {
		cancelWorkers()
		return fmt.Errorf("listen admin: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handlers, cfg.RequestTimeout, zl),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := adminServer.Serve(adminLis); err != nil {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()
	go func() {
		zl.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		zl.Info("shutting down storefront")
	case runErr = <-errCh:
		zl.Error("server failed", zap.Error(runErr))
	}

	// drain: health first, then inbound traffic, then workers
	adminServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown error", zap.Error(err))
	}

	cancelWorkers()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		zl.Info("workers stopped cleanly")
	case <-shutdownCtx.Done():
		zl.Warn("workers didn't stop in time")
	}

	relay.Close()
	cleaner.Close()
	worker.Close()
	zl.Info("storefront stopped")
	return runErr
}

// newGateway returns the payment gateway and the secret used to verify its
// webhooks. The fake gateway is for local runs without Stripe credentials.
func newGateway(cfg *config.Config, zl *zap.Logger) (payment.Gateway, string) {
	if cfg.PaymentGateway == config.GatewayFake {
		zl.Warn("using fake payment gateway")
		secret := cfg.StripeWebhookSecret
		if secret == "" {
			secret = fakeWebhookSecret
		}
		return payment.NewFakeGateway(), secret
	}

	stripeGateway := payment.NewStripeGateway(cfg.StripeSecretKey)
	return payment.NewBreakerGateway(stripeGateway, circuitbreaker.DefaultConfig("stripe"), zl), cfg.StripeWebhookSecret
}
