package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kdimtricp/lipreader/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	ErrStreamStopped     = errors.New("stream stopped")
)

// Chunk is one fragment of encoded video in capture order.
type Chunk struct {
	Seq  int64
	Data []byte
	At   time.Time
}

// Stream is a live capture handle.
//
// Chunks returns a channel that is closed once the stream has stopped and every
// buffered chunk has been delivered. Stop releases the underlying device and is
// safe to call more than once. Err reports why the stream ended, nil for a
// regular Stop.
type Stream interface {
	ID() string
	Chunks() <-chan Chunk
	Stop() error
	Err() error
}

type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Acquirer owns at most one active Stream and guarantees it is released.
type Acquirer struct {
	device Device
	logger *zap.Logger

	mu     sync.Mutex
	active Stream
}

func NewAcquirer(device Device, logger *zap.Logger) *Acquirer {
	return &Acquirer{device: device, logger: logger}
}

// Activate opens the device. A handle that is still held is stopped first so a
// stale stream can never be reused.
func (a *Acquirer) Activate(ctx context.Context) (Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.releaseLocked()

	if a.device == nil {
		metrics.CameraActivations.WithLabelValues("unavailable").Inc()
		a.logger.Warn("camera activation failed", zap.Error(ErrDeviceUnavailable))
		return nil, ErrDeviceUnavailable
	}

	stream, err := a.device.Open(ctx)
	if err != nil {
		result := "unavailable"
		if errors.Is(err, ErrPermissionDenied) {
			result = "denied"
		}
		metrics.CameraActivations.WithLabelValues(result).Inc()
		a.logger.Warn("camera activation failed", zap.Error(err))
		return nil, err
	}

	metrics.CameraActivations.WithLabelValues("ok").Inc()
	a.active = stream
	a.logger.Info("camera activated", zap.String("stream_id", stream.ID()))
	return stream, nil
}

// Adopt installs a stream created elsewhere, e.g. chunks pushed by a browser.
func (a *Acquirer) Adopt(stream Stream) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.releaseLocked()
	a.active = stream
	a.logger.Info("stream adopted", zap.String("stream_id", stream.ID()))
}

func (a *Acquirer) Active() Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Release stops the active stream, if any. Calling it again is a no-op.
func (a *Acquirer) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked()
}

// ReleaseStream stops stream and clears it if it is still the active handle.
// A handle that was already replaced is stopped without touching the new one.
func (a *Acquirer) ReleaseStream(stream Stream) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == stream {
		a.releaseLocked()
		return
	}
	if err := stream.Stop(); err != nil {
		a.logger.Warn("stream stop failed", zap.String("stream_id", stream.ID()), zap.Error(err))
	}
}

func (a *Acquirer) releaseLocked() {
	if a.active == nil {
		return
	}
	stream := a.active
	a.active = nil

	if err := stream.Stop(); err != nil {
		a.logger.Warn("stream stop failed", zap.String("stream_id", stream.ID()), zap.Error(err))
		return
	}
	a.logger.Info("camera released", zap.String("stream_id", stream.ID()))
}
