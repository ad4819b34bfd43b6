package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kdimtricp/lipreader/internal/api"
	"github.com/kdimtricp/lipreader/internal/capture"
	"github.com/kdimtricp/lipreader/internal/config"
	"github.com/kdimtricp/lipreader/internal/database"
	"github.com/kdimtricp/lipreader/internal/demo"
	"github.com/kdimtricp/lipreader/internal/inference"
	"github.com/kdimtricp/lipreader/internal/intake"
	"github.com/kdimtricp/lipreader/internal/logging"
	"github.com/kdimtricp/lipreader/internal/storage"
	"github.com/kdimtricp/lipreader/internal/tracing"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tp, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	store, err := newStorage(ctx, cfg)
	if err != nil {
		return err
	}

	db, err := database.NewDB(ctx, cfg.DatabaseConfig(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("running database migrations", zap.String("path", cfg.MigrationsPath))
	if err := db.RunMigrations(ctx, cfg.MigrationsPath); err != nil {
		return err
	}
	journal := database.NewUploadRepository(db)

	var device capture.Device
	if cfg.CaptureDevice != "" {
		device = capture.NewFFmpegCamera(cfg.CameraConfig(), logger)
	} else {
		logger.Info("no CAPTURE_DEVICE configured, server camera disabled")
	}

	sessions := demo.NewStore(demo.Deps{
		Intake:   intake.New(store, cfg.MaxUploadSize, logger),
		Uploader: inference.NewClient(cfg.InferenceConfig(), logger),
		Journal:  journal,
		Device:   device,
		Recorder: cfg.RecorderConfig(),
		Logger:   logger,
	}, cfg.SessionTTL)

	app := &api.App{
		Sessions:      sessions,
		History:       journal,
		MaxUploadSize: cfg.MaxUploadSize,
		BackendURL:    cfg.BackendURL,
		Logger:        logger,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(app, "./web/static"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server starting",
		zap.String("port", cfg.Port),
		zap.String("backend_url", cfg.BackendURL),
		zap.String("storage", cfg.StorageBackend),
		zap.String("db_type", cfg.DBType),
		zap.Int64("max_upload_size", cfg.MaxUploadSize),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	sessions.Close(shutdownCtx)
	return err
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.StorageBackend == "minio" {
		s, err := storage.NewMinIOStorage(cfg.MinIOConfig())
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	return storage.NewLocalStorage(cfg.UploadDir)
}
