package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/kdimtricp/lipreader/internal/config"
	"github.com/kdimtricp/lipreader/internal/inference"
	"github.com/kdimtricp/lipreader/internal/intake"
	"github.com/kdimtricp/lipreader/internal/logging"
	"github.com/kdimtricp/lipreader/internal/presenter"
)

func main() {
	var (
		file        = flag.String("file", "", "Path to the video clip to upload")
		backend     = flag.String("backend", "", "Inference backend URL (overrides BACKEND_URL)")
		contentType = flag.String("type", "", "MIME type of the clip (detected from the extension when empty)")
	)
	flag.Parse()

	if *file == "" {
		log.Fatal("Please provide a video with -file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if *backend != "" {
		cfg.BackendURL = *backend
	}

	// keep stdout for predictions
	logger, err := logging.New("error")
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	ct := intake.DetectContentType(*contentType, *file)
	if err := intake.Validate(ct); err != nil {
		log.Fatal(intake.RejectionMessage)
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatal("Failed to open video:", err)
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := inference.NewClient(cfg.InferenceConfig(), logger)

	fmt.Printf("Uploading %s to %s...\n", filepath.Base(*file), client.BaseURL())
	result, err := client.Upload(ctx, f, filepath.Base(*file), ct)
	if err != nil {
		log.Fatal("Upload failed: ", err)
	}

	fmt.Println("Predicted Words and Probabilities:")
	if len(result.Predictions) == 0 {
		fmt.Println("(none)")
	}
	if err := presenter.Text(os.Stdout, presenter.NewView(result.Predictions, result.SaliencyURL)); err != nil {
		log.Fatal(err)
	}
}
