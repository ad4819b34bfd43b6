package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kdimtricp/lipreader/internal/metrics"
	"github.com/kdimtricp/lipreader/internal/storage"
	"go.uber.org/zap"
)

// RejectionMessage is shown to the visitor when a non-video file is offered.
const RejectionMessage = "Please upload a video file."

var (
	ErrInvalidFileType = errors.New("invalid file type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrEmptyFile       = errors.New("empty file")
)

type Source string

const (
	SourceRecorded Source = "recorded"
	SourceSelected Source = "selected"
)

// PendingFile is the clip staged for upload.
type PendingFile struct {
	ID          string
	Name        string
	ContentType string
	Size        int64
	Source      Source
	Key         string
	StagedAt    time.Time
}

var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

// Validate accepts only video/* MIME types.
func Validate(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if !strings.HasPrefix(mediaType, "video/") {
		return fmt.Errorf("%q: %w", contentType, ErrInvalidFileType)
	}
	return nil
}

// DetectContentType prefers the declared type and falls back to the file
// extension when the declared type is missing or generic.
func DetectContentType(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := videoExtensions[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

type Intake struct {
	storage storage.Storage
	maxSize int64
	logger  *zap.Logger
}

func New(store storage.Storage, maxSize int64, logger *zap.Logger) *Intake {
	return &Intake{storage: store, maxSize: maxSize, logger: logger}
}

// Stage validates the file and writes it to staging storage. Rejected input
// never reaches storage.
func (in *Intake) Stage(ctx context.Context, r io.Reader, name, contentType string, size int64, source Source) (*PendingFile, error) {
	if err := Validate(contentType); err != nil {
		metrics.IntakeTotal.WithLabelValues(string(source), "rejected").Inc()
		in.logger.Warn("file rejected",
			zap.String("name", name),
			zap.String("content_type", contentType),
			zap.String("source", string(source)),
		)
		return nil, err
	}
	if in.maxSize > 0 && size > in.maxSize {
		metrics.IntakeTotal.WithLabelValues(string(source), "too_large").Inc()
		return nil, fmt.Errorf("%d bytes exceeds %d: %w", size, in.maxSize, ErrFileTooLarge)
	}

	counter := &countingReader{r: r}
	key, err := in.storage.SaveFile(ctx, counter, storage.FileInfo{
		Filename:    name,
		ContentType: contentType,
		Size:        size,
	})
	if err != nil {
		return nil, fmt.Errorf("stage file: %w", err)
	}

	if counter.n == 0 {
		in.discardKey(ctx, key)
		metrics.IntakeTotal.WithLabelValues(string(source), "empty").Inc()
		return nil, ErrEmptyFile
	}

	if name == "" {
		name = "recording" + filepath.Ext(key)
	}

	pending := &PendingFile{
		ID:          uuid.New().String(),
		Name:        name,
		ContentType: contentType,
		Size:        counter.n,
		Source:      source,
		Key:         key,
		StagedAt:    time.Now(),
	}

	metrics.IntakeTotal.WithLabelValues(string(source), "accepted").Inc()
	in.logger.Info("file staged",
		zap.String("pending_id", pending.ID),
		zap.String("name", pending.Name),
		zap.String("content_type", pending.ContentType),
		zap.Int64("size", pending.Size),
		zap.String("source", string(source)),
	)
	return pending, nil
}

func (in *Intake) Open(ctx context.Context, p *PendingFile) (io.ReadSeekCloser, error) {
	return in.storage.OpenFile(ctx, p.Key)
}

// Discard deletes the staged bytes of an invalidated pending file.
func (in *Intake) Discard(ctx context.Context, p *PendingFile) {
	if p == nil {
		return
	}
	in.discardKey(ctx, p.Key)
}

func (in *Intake) discardKey(ctx context.Context, key string) {
	if err := in.storage.DeleteFile(ctx, key); err != nil {
		in.logger.Warn("failed to discard staged file", zap.String("key", key), zap.Error(err))
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
