// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fjod/storefront/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// NewSQLite returns a migrated store backed by a file in t.TempDir().
func NewSQLite(t testing.TB) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), store.Config{
		Driver:     store.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "storefront.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations())

	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}
