package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/kdimtricp/lipreader/internal/capture"
	"github.com/kdimtricp/lipreader/internal/config"
	"github.com/kdimtricp/lipreader/internal/database"
	"github.com/kdimtricp/lipreader/internal/storage"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := zap.NewNop()

	fmt.Println("🔍 Checking LipReader dependencies")
	fmt.Println("==================================")

	ok := true
	ok = checkBackend(ctx, cfg.BackendURL) && ok
	ok = checkStorage(ctx, cfg) && ok
	ok = checkJournal(ctx, cfg, logger) && ok
	ok = checkCamera(ctx, cfg, logger) && ok

	fmt.Println()
	if !ok {
		fmt.Println("❌ Some checks failed")
		os.Exit(1)
	}
	fmt.Println("✅ All checks passed")
}

func checkBackend(ctx context.Context, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		fmt.Printf("❌ Backend: invalid URL %s: %v\n", baseURL, err)
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("❌ Backend: %s unreachable: %v\n", baseURL, err)
		return false
	}
	resp.Body.Close()
	// any HTTP answer means the host is up; the backend has no health route
	fmt.Printf("✅ Backend: %s answered %s\n", baseURL, resp.Status)
	return true
}

func checkStorage(ctx context.Context, cfg *config.Config) bool {
	if cfg.StorageBackend == "minio" {
		s, err := storage.NewMinIOStorage(cfg.MinIOConfig())
		if err == nil {
			err = s.EnsureBucket(ctx)
		}
		if err != nil {
			fmt.Printf("❌ Storage: minio %s: %v\n", cfg.MinIOEndpoint, err)
			return false
		}
		fmt.Printf("✅ Storage: minio bucket %s ready\n", cfg.MinIOBucket)
		return true
	}

	if _, err := storage.NewLocalStorage(cfg.UploadDir); err != nil {
		fmt.Printf("❌ Storage: %s: %v\n", cfg.UploadDir, err)
		return false
	}
	fmt.Printf("✅ Storage: local directory %s\n", cfg.UploadDir)
	return true
}

func checkJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger) bool {
	db, err := database.NewDB(ctx, cfg.DatabaseConfig(), logger)
	if err != nil {
		fmt.Printf("❌ Journal (%s): %v\n", cfg.DBType, err)
		return false
	}
	defer db.Close()

	counts, err := database.NewUploadRepository(db).CountByOutcome(ctx)
	if err != nil {
		fmt.Printf("❌ Journal (%s): %v (run cmd/migrate?)\n", cfg.DBType, err)
		return false
	}
	fmt.Printf("✅ Journal (%s): %d succeeded, %d failed uploads\n",
		cfg.DBType, counts[database.OutcomeSucceeded], counts[database.OutcomeFailed])
	return true
}

func checkCamera(ctx context.Context, cfg *config.Config, logger *zap.Logger) bool {
	if cfg.CaptureDevice == "" {
		fmt.Println("⚠️  Camera: CAPTURE_DEVICE not set, server camera disabled")
		return true
	}

	acquirer := capture.NewAcquirer(capture.NewFFmpegCamera(cfg.CameraConfig(), logger), logger)
	defer acquirer.Release()

	stream, err := acquirer.Activate(ctx)
	if err != nil {
		fmt.Printf("❌ Camera: %s: %v\n", cfg.CaptureDevice, err)
		return false
	}

	select {
	case chunk, open := <-stream.Chunks():
		if !open {
			fmt.Printf("❌ Camera: %s: stream ended: %v\n", cfg.CaptureDevice, stream.Err())
			return false
		}
		fmt.Printf("✅ Camera: %s produced %d bytes\n", cfg.CaptureDevice, len(chunk.Data))
		return true
	case <-time.After(5 * time.Second):
		fmt.Printf("❌ Camera: %s produced no data within 5s\n", cfg.CaptureDevice)
		return false
	}
}
