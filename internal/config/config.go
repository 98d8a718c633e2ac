// Package config reads service settings from the environment, with
// command-line flags taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/store"
	"github.com/spf13/pflag"
)

const (
	GatewayStripe = "stripe"
	GatewayFake   = "fake"
)

type Config struct {
	HTTPAddr        string
	AdminGRPCAddr   string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string

	MongoURI            string
	MongoDBName         string
	MongoConnectTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Store store.Config

	KafkaBrokers       []string
	OrderEventsTopic   string
	NotificationsTopic string
	KafkaGroupPrefix   string

	PaymentGateway      string
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string

	WebhookClaimLease time.Duration

	OutboxInterval time.Duration
	OTLPEndpoint   string
}

// Load builds the configuration from the environment and then applies args
// (usually os.Args[1:]).
func Load(args []string) (*Config, error) {
	var env envReader

	cfg := &Config{
		HTTPAddr:        env.getEnv("HTTP_ADDR", ":8080"),
		AdminGRPCAddr:   env.getEnv("ADMIN_GRPC_ADDR", ":50060"),
		RequestTimeout:  env.getDuration("REQUEST_TIMEOUT", 10*time.Second),
		ShutdownTimeout: env.getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:        env.getEnv("LOG_LEVEL", "info"),

		MongoURI:            env.getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:         env.getEnv("MONGO_DB_NAME", "basketdb"),
		MongoConnectTimeout: env.getDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second),

		RedisAddr:     env.getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: env.getEnv("REDIS_PASSWORD", ""),
		RedisDB:       env.getInt("REDIS_DB", 0),

		Store: store.Config{
			Driver: store.Driver(env.getEnv("STORE_DRIVER", string(store.DriverPostgres))),
			Postgres: store.Credentials{
				Host:     env.getEnv("DB_HOST", "localhost"),
				Port:     env.getInt("DB_PORT", 5432),
				User:     env.getEnv("DB_USER", "postgres"),
				Password: env.getEnv("DB_PASSWORD", "postgres"),
				DBName:   env.getEnv("DB_NAME", "storefront"),
				SSLMode:  env.getEnv("DB_SSLMODE", "disable"),
			},
			SQLitePath: env.getEnv("SQLITE_PATH", "storefront.db"),
		},

		KafkaBrokers:       splitList(env.getEnv("KAFKA_BROKERS", "localhost:9092")),
		OrderEventsTopic:   env.getEnv("ORDER_EVENTS_TOPIC", "order-events"),
		NotificationsTopic: env.getEnv("NOTIFICATIONS_TOPIC", "order-notifications"),
		KafkaGroupPrefix:   env.getEnv("KAFKA_GROUP_PREFIX", "storefront"),

		PaymentGateway:      env.getEnv("PAYMENT_GATEWAY", GatewayStripe),
		StripeSecretKey:     env.getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: env.getEnv("STRIPE_WEBHOOK_SECRET", ""),
		Currency:            env.getEnv("CURRENCY", "usd"),

		WebhookClaimLease: env.getDuration("WEBHOOK_CLAIM_LEASE", 30*time.Second),

		OutboxInterval: env.getDuration("OUTBOX_INTERVAL", 2*time.Second),
		OTLPEndpoint:   env.getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
	if env.err != nil {
		return nil, env.err
	}

	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseFlags(args []string) error {
	fs := pflag.NewFlagSet("storefront", pflag.ContinueOnError)

	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.AdminGRPCAddr, "admin-grpc-addr", c.AdminGRPCAddr, "admin gRPC listen address")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "per-request timeout")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "graceful shutdown timeout")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")

	fs.StringVar(&c.MongoURI, "mongo-uri", c.MongoURI, "MongoDB connection string")
	fs.StringVar(&c.MongoDBName, "mongo-db", c.MongoDBName, "MongoDB database for baskets")
	fs.DurationVar(&c.MongoConnectTimeout, "mongo-connect-timeout", c.MongoConnectTimeout, "MongoDB connect and ping timeout")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")

	driver := string(c.Store.Driver)
	fs.StringVar(&driver, "store-driver", driver, "order store driver: postgres or sqlite")
	fs.StringVar(&c.Store.SQLitePath, "sqlite-path", c.Store.SQLitePath, "SQLite file when store-driver=sqlite")

	fs.StringSliceVar(&c.KafkaBrokers, "kafka-brokers", c.KafkaBrokers, "comma separated Kafka brokers")
	fs.StringVar(&c.PaymentGateway, "payment-gateway", c.PaymentGateway, "stripe or fake")
	fs.StringVar(&c.Currency, "currency", c.Currency, "ISO currency for payment intents")
	fs.DurationVar(&c.WebhookClaimLease, "webhook-claim-lease", c.WebhookClaimLease, "how long a webhook delivery holds its event id while processing")
	fs.DurationVar(&c.OutboxInterval, "outbox-interval", c.OutboxInterval, "outbox polling interval")

	if err := fs.Parse(args); err != nil {
		return err
	}
	c.Store.Driver = store.Driver(driver)
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.MongoConnectTimeout <= 0 {
		errs = append(errs, errors.New("MONGO_CONNECT_TIMEOUT must be positive"))
	}
	if c.WebhookClaimLease <= 0 {
		errs = append(errs, errors.New("WEBHOOK_CLAIM_LEASE must be positive"))
	}
	if c.OutboxInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_INTERVAL must be positive"))
	}
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required"))
	}

	switch c.Store.Driver {
	case store.DriverPostgres:
		if c.Store.Postgres.Host == "" || c.Store.Postgres.DBName == "" {
			errs = append(errs, errors.New("DB_HOST and DB_NAME are required for postgres"))
		}
	case store.DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not postgres or sqlite", c.Store.Driver))
	}

	switch c.PaymentGateway {
	case GatewayStripe:
		if c.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required for the stripe gateway"))
		}
		if c.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required for the stripe gateway"))
		}
	case GatewayFake:
	default:
		errs = append(errs, fmt.Errorf("PAYMENT_GATEWAY %q is not stripe or fake", c.PaymentGateway))
	}

	if len(c.Currency) != 3 {
		errs = append(errs, fmt.Errorf("CURRENCY %q is not a three-letter code", c.Currency))
	}

	return errors.Join(errs...)
}

// GroupID names a consumer group under the configured prefix.
func (c *Config) GroupID(name string) string {
	return c.KafkaGroupPrefix + "-" + name
}

// envReader keeps the first conversion error so Load can report it once.
type envReader struct {
	err error
}

func (r *envReader) getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return n
}

func (r *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
