package demo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kdimtricp/lipreader/internal/capture"
	"github.com/kdimtricp/lipreader/internal/database"
	"github.com/kdimtricp/lipreader/internal/inference"
	"github.com/kdimtricp/lipreader/internal/intake"
	"github.com/kdimtricp/lipreader/internal/metrics"
	"github.com/kdimtricp/lipreader/internal/presenter"
	"github.com/kdimtricp/lipreader/internal/recorder"
	"go.uber.org/zap"
)

var (
	ErrNoPendingFile    = errors.New("no pending file")
	ErrUploadInFlight   = errors.New("upload already in progress")
	ErrAlreadyRecording = errors.New("already recording")
	ErrPendingReplaced  = errors.New("pending file replaced during upload")
)

// Uploader sends a clip to the inference backend.
type Uploader interface {
	Upload(ctx context.Context, file io.Reader, filename, contentType string) (*inference.Result, error)
}

// Journal records upload attempts.
type Journal interface {
	Insert(ctx context.Context, rec *database.UploadRecord) error
}

// Deps are shared by every session.
type Deps struct {
	Intake   *intake.Intake
	Uploader Uploader
	// Journal may be nil.
	Journal  Journal
	Device   capture.Device
	Recorder recorder.Config
	Logger   *zap.Logger
}

// Session is the per-visitor demo state: the camera, the recorder, the
// pending file, the last results and the upload flag.
type Session struct {
	ID string

	deps     *Deps
	logger   *zap.Logger
	acquirer *capture.Acquirer
	recorder *recorder.Recorder

	// recMu serializes camera activation against recorder state.
	recMu sync.Mutex

	mu          sync.Mutex
	pending     *intake.PendingFile
	predictions inference.PredictionResult
	saliencyURL string
	message     string

	uploading atomic.Bool
	lastSeen  atomic.Int64
}

func newSession(id string, deps *Deps) *Session {
	logger := deps.Logger.With(zap.String("session_id", id))
	acquirer := capture.NewAcquirer(deps.Device, logger)
	s := &Session{
		ID:       id,
		deps:     deps,
		logger:   logger,
		acquirer: acquirer,
		recorder: recorder.New(acquirer, deps.Recorder, logger),
	}
	s.Touch()
	return s
}

func (s *Session) Touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) IsUploading() bool { return s.uploading.Load() }

func (s *Session) IsRecording() bool { return s.recorder.State() == recorder.Recording }

// Accept stages a file and makes it the pending file. The previous pending
// file is discarded and stale results are cleared. A rejected file changes
// nothing.
func (s *Session) Accept(ctx context.Context, r io.Reader, name, contentType string, size int64, source intake.Source) (*intake.PendingFile, error) {
	pending, err := s.deps.Intake.Stage(ctx, r, name, contentType, size, source)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	previous := s.pending
	s.pending = pending
	s.predictions = nil
	s.saliencyURL = ""
	s.message = ""
	s.mu.Unlock()

	s.deps.Intake.Discard(ctx, previous)
	return pending, nil
}

// Clear drops the pending file and results and releases the camera.
func (s *Session) Clear(ctx context.Context) {
	s.CancelRecording()

	s.mu.Lock()
	previous := s.pending
	s.pending = nil
	s.predictions = nil
	s.saliencyURL = ""
	s.message = ""
	s.mu.Unlock()

	s.deps.Intake.Discard(ctx, previous)
}

// StartRecording activates the server camera and starts recording it. It is a
// no-op while a recording is already in progress.
func (s *Session) StartRecording(ctx context.Context) error {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	if s.IsRecording() {
		return nil
	}
	if _, err := s.acquirer.Activate(ctx); err != nil {
		return err
	}
	s.recorder.Start()
	return nil
}

// AdoptStream records a stream whose chunks arrive from elsewhere.
func (s *Session) AdoptStream(stream capture.Stream) error {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	if s.IsRecording() {
		return ErrAlreadyRecording
	}
	s.acquirer.Adopt(stream)
	s.recorder.Start()
	return nil
}

// StopRecording finalizes the recording and stages it as the pending file.
// The camera is released on every path.
func (s *Session) StopRecording(ctx context.Context) (*intake.PendingFile, *recorder.Blob, error) {
	s.recMu.Lock()
	blob, err := s.recorder.Stop()
	s.recMu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	pending, err := s.Accept(ctx, bytes.NewReader(blob.Data), "", blob.ContentType, int64(len(blob.Data)), intake.SourceRecorded)
	if err != nil {
		return nil, blob, err
	}
	return pending, blob, nil
}

// CancelRecording discards any recording in progress and releases the camera.
func (s *Session) CancelRecording() {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	// Stop releases the camera even when idle.
	if _, err := s.recorder.Stop(); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
		s.logger.Warn("recording discarded with error", zap.Error(err))
	}
}

// Upload sends the pending file to the backend. Without a pending file, or
// while another upload is in flight, no request is made. When the pending file
// is replaced before the answer arrives, the answer is dropped and
// ErrPendingReplaced is returned.
func (s *Session) Upload(ctx context.Context) (*inference.Result, error) {
	if !s.uploading.CompareAndSwap(false, true) {
		return nil, ErrUploadInFlight
	}
	defer s.uploading.Store(false)

	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending == nil {
		return nil, ErrNoPendingFile
	}

	metrics.UploadsInFlight.Inc()
	defer metrics.UploadsInFlight.Dec()

	start := time.Now()
	result, err := s.send(ctx, pending)
	metrics.UploadDuration.Observe(time.Since(start).Seconds())

	rec := &database.UploadRecord{
		SessionID:   s.ID,
		FileName:    pending.Name,
		ContentType: pending.ContentType,
		Size:        pending.Size,
		Source:      string(pending.Source),
	}

	if err != nil {
		metrics.UploadsTotal.WithLabelValues(database.OutcomeFailed).Inc()
		s.logger.Error("upload failed", zap.String("pending_id", pending.ID), zap.Error(err))
		rec.Outcome = database.OutcomeFailed
		rec.Error = err.Error()
		s.journal(ctx, rec)
		return nil, err
	}

	metrics.UploadsTotal.WithLabelValues(database.OutcomeSucceeded).Inc()
	rec.Outcome = database.OutcomeSucceeded
	rec.PredictionCount = len(result.Predictions)
	if len(result.Predictions) > 0 {
		rec.TopWord = result.Predictions[0].Word
	}
	s.journal(ctx, rec)

	s.mu.Lock()
	current := s.pending == pending
	if current {
		s.pending = nil
		s.predictions = result.Predictions
		s.saliencyURL = result.SaliencyURL
		s.message = result.Message
	}
	s.mu.Unlock()

	if !current {
		s.logger.Info("pending file replaced during upload, results dropped", zap.String("pending_id", pending.ID))
		return nil, ErrPendingReplaced
	}
	s.deps.Intake.Discard(ctx, pending)

	s.logger.Info("upload succeeded",
		zap.String("pending_id", pending.ID),
		zap.Int("predictions", len(result.Predictions)),
		zap.Bool("saliency", result.SaliencyURL != ""),
	)
	return result, nil
}

func (s *Session) send(ctx context.Context, pending *intake.PendingFile) (*inference.Result, error) {
	file, err := s.deps.Intake.Open(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("open pending file: %w", err)
	}
	defer file.Close()

	return s.deps.Uploader.Upload(ctx, file, pending.Name, pending.ContentType)
}

func (s *Session) journal(ctx context.Context, rec *database.UploadRecord) {
	if s.deps.Journal == nil {
		return
	}
	if err := s.deps.Journal.Insert(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("failed to journal upload", zap.Error(err))
	}
}

// Pending returns a copy of the pending file, or nil.
func (s *Session) Pending() *intake.PendingFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	p := *s.pending
	return &p
}

// OpenPending opens the pending file's staged bytes.
func (s *Session) OpenPending(ctx context.Context) (*intake.PendingFile, io.ReadSeekCloser, error) {
	pending := s.Pending()
	if pending == nil {
		return nil, nil, ErrNoPendingFile
	}
	f, err := s.deps.Intake.Open(ctx, pending)
	if err != nil {
		return nil, nil, err
	}
	return pending, f, nil
}

// View is what the results slot renders.
func (s *Session) View() presenter.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return presenter.NewView(s.predictions, s.saliencyURL)
}

type PendingState struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Source      string    `json:"source"`
	StagedAt    time.Time `json:"staged_at"`
}

type PredictionState struct {
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
	Percent     string  `json:"percent"`
}

type State struct {
	SessionID     string            `json:"session_id"`
	IsUploading   bool              `json:"is_uploading"`
	IsRecording   bool              `json:"is_recording"`
	RecordedBytes int64             `json:"recorded_bytes"`
	LimitReached  bool              `json:"limit_reached"`
	CaptureError  string            `json:"capture_error,omitempty"`
	Pending       *PendingState     `json:"pending"`
	Predictions   []PredictionState `json:"predictions"`
	SaliencyURL   string            `json:"saliency_url"`
	Message       string            `json:"message,omitempty"`
}

func (s *Session) Snapshot() State {
	state := State{
		SessionID:   s.ID,
		IsUploading: s.IsUploading(),
		IsRecording: s.IsRecording(),
		Predictions: []PredictionState{},
	}
	if s.recorder.State() != recorder.Idle {
		state.RecordedBytes = s.recorder.Size()
		state.LimitReached = s.recorder.Truncated()
		if stream := s.acquirer.Active(); stream != nil {
			if err := stream.Err(); err != nil {
				state.CaptureError = err.Error()
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.pending; p != nil {
		state.Pending = &PendingState{
			ID:          p.ID,
			Name:        p.Name,
			ContentType: p.ContentType,
			Size:        p.Size,
			Source:      string(p.Source),
			StagedAt:    p.StagedAt,
		}
	}
	for _, p := range s.predictions {
		state.Predictions = append(state.Predictions, PredictionState{
			Word:        p.Word,
			Probability: p.Probability,
			Percent:     presenter.FormatProbability(p.Probability),
		})
	}
	state.SaliencyURL = s.saliencyURL
	state.Message = s.message
	return state
}

// Release frees everything the session holds: the camera and the staged bytes.
func (s *Session) Release(ctx context.Context) {
	s.CancelRecording()
	s.acquirer.Release()

	s.mu.Lock()
	previous := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.deps.Intake.Discard(ctx, previous)
}
