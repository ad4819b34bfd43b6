package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/kdimtricp/lipreader/internal/config"
	"github.com/kdimtricp/lipreader/internal/database"
	"github.com/kdimtricp/lipreader/internal/logging"
	"go.uber.org/zap"
)

func main() {
	var (
		migrationsPath = flag.String("migrations", "", "Path to migrations directory (overrides MIGRATIONS_PATH)")
		status         = flag.Bool("status", false, "Show migration status only")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if *migrationsPath != "" {
		cfg.MigrationsPath = *migrationsPath
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	db, err := database.NewDB(ctx, cfg.DatabaseConfig(), logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if db.Type() != database.TypePostgres {
		fmt.Println("SQLite creates its schema on startup; nothing to migrate.")
		return
	}

	migrator := database.NewMigrator(db.Conn(), db.Type(), logger)

	if !*status {
		fmt.Printf("Running migrations from %s...\n", cfg.MigrationsPath)
		if err := migrator.Run(ctx, cfg.MigrationsPath); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		fmt.Println("Migrations completed successfully!")
		return
	}

	if err := migrator.Initialize(ctx); err != nil {
		logger.Fatal("failed to initialize migrator", zap.Error(err))
	}
	applied, err := migrator.AppliedMigrations(ctx)
	if err != nil {
		logger.Fatal("failed to get applied migrations", zap.Error(err))
	}
	migrations, err := migrator.LoadMigrations(cfg.MigrationsPath)
	if err != nil {
		logger.Fatal("failed to load migrations", zap.Error(err))
	}

	fmt.Println("Migration Status:")
	fmt.Println("=================")
	for _, m := range migrations {
		state := "pending"
		if applied[m.Version] {
			state = "applied"
		}
		fmt.Printf("%s - %s [%s]\n", m.Version, m.Name, state)
	}
}
