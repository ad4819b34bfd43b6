package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadMigrationsSortsAndSkips(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"002_second.sql": "SELECT 2;",
		"001_first.sql":  "SELECT 1;",
		"noversion.sql":  "SELECT 0;",
		"README.md":      "docs",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	m := NewMigrator(nil, TypePostgres, zap.NewNop())
	migrations, err := m.LoadMigrations(dir)
	require.NoError(t, err)

	require.Len(t, migrations, 2)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "SELECT 1;", migrations[0].SQL)
	assert.Equal(t, "002", migrations[1].Version)
}

func TestMigratorSkipsSQLite(t *testing.T) {
	db := setupSQLiteDB(t)
	require.NoError(t, db.RunMigrations(context.Background(), "/does/not/exist"))
}

func TestRepositoryMigrationsLoad(t *testing.T) {
	m := NewMigrator(nil, TypePostgres, zap.NewNop())
	migrations, err := m.LoadMigrations(migrationsDir(t))
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "002", migrations[1].Version)
	assert.Contains(t, migrations[1].SQL, "file_name TYPE TEXT")
}
