package recorder

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/kdimtricp/lipreader/internal/capture"
	"github.com/kdimtricp/lipreader/internal/metrics"
	"go.uber.org/zap"
)

const ContentType = "video/webm"

var ErrNotRecording = errors.New("not recording")

type State int

const (
	Idle State = iota
	Recording
	// Finished means the stream ended on its own, through a limit or a device
	// error. The chunks are held until Stop.
	Finished
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Finished:
		return "finished"
	default:
		return "idle"
	}
}

type Config struct {
	// MaxBytes caps the recorded size. Zero means unlimited.
	MaxBytes int64
	// MaxDuration releases the camera after this long. Zero means unlimited.
	MaxDuration time.Duration
}

// Blob is a finalized recording.
type Blob struct {
	Data        []byte
	ContentType string
	Chunks      int
	Duration    time.Duration
	Truncated   bool
}

// Recorder drains the acquirer's active stream into an ordered list of chunks.
type Recorder struct {
	acquirer *capture.Acquirer
	cfg      Config
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	chunks    []capture.Chunk
	size      int64
	truncated bool
	started   time.Time
	stream    capture.Stream
	drained   chan struct{}
	timer     *time.Timer
}

func New(acquirer *capture.Acquirer, cfg Config, logger *zap.Logger) *Recorder {
	return &Recorder{
		acquirer: acquirer,
		cfg:      cfg,
		logger:   logger,
	}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Size is the number of bytes recorded so far.
func (r *Recorder) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Truncated reports whether a limit cut the current recording short.
func (r *Recorder) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.truncated
}

// Start begins recording the active stream. Without an active stream, or while
// already recording, it does nothing. A finished recording that was never
// stopped is discarded.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Recording {
		return
	}
	stream := r.acquirer.Active()
	if stream == nil {
		r.logger.Debug("recording not started: no active stream")
		return
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}

	r.state = Recording
	r.chunks = nil
	r.size = 0
	r.truncated = false
	r.started = time.Now()
	r.stream = stream
	r.drained = make(chan struct{})

	if r.cfg.MaxDuration > 0 {
		r.timer = time.AfterFunc(r.cfg.MaxDuration, func() {
			r.mu.Lock()
			if r.stream != stream {
				r.mu.Unlock()
				return
			}
			r.truncated = true
			r.mu.Unlock()

			r.logger.Info("recording reached max duration", zap.Duration("max_duration", r.cfg.MaxDuration))
			// Stopping the stream closes its channel and ends the drain.
			if err := stream.Stop(); err != nil {
				r.logger.Warn("failed to stop stream at max duration", zap.String("stream_id", stream.ID()), zap.Error(err))
			}
		})
	}

	go r.drain(stream, r.drained)

	r.logger.Info("recording started", zap.String("stream_id", stream.ID()))
}

func (r *Recorder) drain(stream capture.Stream, done chan struct{}) {
	defer close(done)
	defer func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// Stop clears r.stream before releasing, so only a stream that ended
		// on its own gets here still installed.
		if r.stream == stream && r.state == Recording {
			r.state = Finished
			r.logger.Info("recording finished, waiting for stop", zap.String("stream_id", stream.ID()))
		}
	}()

	for chunk := range stream.Chunks() {
		r.mu.Lock()
		if r.cfg.MaxBytes > 0 && r.size+int64(len(chunk.Data)) > r.cfg.MaxBytes {
			if !r.truncated {
				r.truncated = true
				r.logger.Info("recording reached max size", zap.Int64("max_bytes", r.cfg.MaxBytes))
				go func() {
					if err := stream.Stop(); err != nil {
						r.logger.Warn("failed to stop stream at max size", zap.String("stream_id", stream.ID()), zap.Error(err))
					}
				}()
			}
			r.mu.Unlock()
			continue
		}
		r.chunks = append(r.chunks, chunk)
		r.size += int64(len(chunk.Data))
		r.mu.Unlock()
	}
}

// Stop releases the camera and concatenates the recorded chunks into a blob.
// The camera is released even when no recording is in progress.
func (r *Recorder) Stop() (*Blob, error) {
	r.mu.Lock()
	if r.state == Idle || r.stream == nil {
		r.mu.Unlock()
		r.acquirer.Release()
		return nil, ErrNotRecording
	}
	stream := r.stream
	drained := r.drained
	r.stream = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	r.acquirer.ReleaseStream(stream)
	<-drained

	r.mu.Lock()
	defer r.mu.Unlock()

	var buf bytes.Buffer
	buf.Grow(int(r.size))
	for _, c := range r.chunks {
		buf.Write(c.Data)
	}

	blob := &Blob{
		Data:        buf.Bytes(),
		ContentType: ContentType,
		Chunks:      len(r.chunks),
		Duration:    time.Since(r.started),
		Truncated:   r.truncated,
	}

	r.state = Idle
	r.chunks = nil
	r.size = 0
	r.drained = nil

	metrics.RecordingsTotal.Inc()
	metrics.RecordedBytes.Observe(float64(len(blob.Data)))

	if len(blob.Data) == 0 {
		if err := stream.Err(); err != nil {
			r.logger.Warn("recording produced no data", zap.Error(err))
			return nil, err
		}
	}

	r.logger.Info("recording stopped",
		zap.String("stream_id", stream.ID()),
		zap.Int("chunks", blob.Chunks),
		zap.Int("bytes", len(blob.Data)),
		zap.Bool("truncated", blob.Truncated),
	)
	return blob, nil
}
