package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

type DB struct {
	conn   *sql.DB
	dbType string
	logger *zap.Logger
}

type Config struct {
	Type       string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SQLitePath string
}

func (c Config) DSN() string {
	if c.Type == TypeSQLite {
		return c.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

func NewDB(ctx context.Context, config Config, logger *zap.Logger) (*DB, error) {
	var driver string
	switch config.Type {
	case TypeSQLite:
		driver = "sqlite3"
	case TypePostgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	conn, err := sql.Open(driver, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.Type == TypeSQLite {
		// single writer
		conn.SetMaxOpenConns(1)
	}

	db := &DB{conn: conn, dbType: config.Type, logger: logger}

	// postgres gets its schema from migrations
	if config.Type == TypeSQLite {
		if err := db.createTables(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return db, nil
}

func (db *DB) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		source TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		prediction_count INTEGER NOT NULL DEFAULT 0,
		top_word TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_uploads_session_created ON uploads (session_id, created_at);
	`

	_, err := db.conn.ExecContext(ctx, query)
	return err
}

// RunMigrations applies pending migrations. It is a no-op on sqlite.
func (db *DB) RunMigrations(ctx context.Context, migrationsPath string) error {
	return NewMigrator(db.conn, db.dbType, db.logger).Run(ctx, migrationsPath)
}

func (db *DB) Type() string { return db.dbType }

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}
