package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const appName = "storefront"

// MongoConfig says where baskets live. ConnectTimeout bounds both the dial
// and the startup ping.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

func (c MongoConfig) clientOptions() *options.ClientOptions {
	return options.Client().
		ApplyURI(c.URI).
		SetAppName(appName).
		SetConnectTimeout(c.ConnectTimeout).
		SetServerSelectionTimeout(c.ConnectTimeout).
		SetReadPreference(readpref.Primary()).
		SetRetryWrites(true)
}

// Connect returns the basket database once the primary answers a ping.
// The caller owns the client and disconnects it on shutdown.
func Connect(ctx context.Context, cfg MongoConfig) (*mongo.Database, error) {
	if cfg.Database == "" {
		return nil, errors.New("mongodb: database name is required")
	}
	if cfg.ConnectTimeout <= 0 {
		return nil, errors.New("mongodb: connect timeout must be positive")
	}

	client, err := mongo.Connect(ctx, cfg.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping mongodb %s: %w", cfg.Database, err)
	}

	return client.Database(cfg.Database), nil
}
