package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := Credentials{
		Host:     host,
		Port:     port.Int(),
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	// every subtest gets its own database
	admin, err := Open(ctx, Config{Driver: DriverPostgres, Postgres: creds}, zap.NewNop())
	require.NoError(t, err)
	defer admin.Close()

	n := 0
	runStoreSuite(t, func(t *testing.T) *Store {
		n++
		name := fmt.Sprintf("suite_%d", n)
		_, err := admin.db.ExecContext(ctx, "CREATE DATABASE "+name)
		require.NoError(t, err)

		c := creds
		c.DBName = name
		s, err := Open(ctx, Config{Driver: DriverPostgres, Postgres: c}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, s.RunMigrations())
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
