package database

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupSQLiteDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(context.Background(), Config{
		Type:       TypeSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "journal.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func setupPostgresDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("lipreader_test"),
		postgres.WithUsername("lipreader_test"),
		postgres.WithPassword("lipreader_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := NewDB(ctx, Config{
		Type:     TypePostgres,
		Host:     host,
		Port:     port.Int(),
		User:     "lipreader_test",
		Password: "lipreader_test_password",
		Name:     "lipreader_test",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(ctx, migrationsDir(t)))
	return db
}
