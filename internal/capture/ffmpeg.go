package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CameraConfig struct {
	// FFmpegPath defaults to "ffmpeg" resolved from PATH.
	FFmpegPath string
	// Device is the capture device node, e.g. /dev/video0. Empty disables the camera.
	Device string
	// Format is the ffmpeg input format, e.g. v4l2 or avfoundation.
	Format string
	// ChunkSize is the maximum number of bytes per emitted chunk.
	ChunkSize int
}

// FFmpegCamera captures the server's camera by running ffmpeg and encoding to webm on stdout.
type FFmpegCamera struct {
	cfg    CameraConfig
	logger *zap.Logger
}

func NewFFmpegCamera(cfg CameraConfig, logger *zap.Logger) *FFmpegCamera {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Format == "" {
		cfg.Format = "v4l2"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64 * 1024
	}
	return &FFmpegCamera{cfg: cfg, logger: logger}
}

func (c *FFmpegCamera) Open(ctx context.Context) (Stream, error) {
	if c.cfg.Device == "" {
		return nil, fmt.Errorf("no capture device configured: %w", ErrDeviceUnavailable)
	}
	if err := probeDevice(c.cfg.Device); err != nil {
		return nil, err
	}

	ffmpegPath, err := exec.LookPath(c.cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", ErrDeviceUnavailable)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The stream outlives the request that opened it, so it gets its own context.
	streamCtx, cancel := context.WithCancel(context.Background())

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", c.cfg.Format,
		"-i", c.cfg.Device,
		"-an",
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-f", "webm",
		"pipe:1",
	}
	cmd := exec.CommandContext(streamCtx, ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &limitedBuffer{limit: 8 * 1024}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", ErrDeviceUnavailable)
	}

	s := &ffmpegStream{
		id:       uuid.New().String(),
		cmd:      cmd,
		cancel:   cancel,
		chunks:   make(chan Chunk, 16),
		finished: make(chan struct{}),
		logger:   c.logger,
	}
	s.logger = c.logger.With(zap.String("stream_id", s.id), zap.String("device", c.cfg.Device))
	s.logger.Debug("running ffmpeg", zap.String("path", ffmpegPath), zap.Strings("args", args))

	go s.pump(streamCtx, stdout, stderr, c.cfg.ChunkSize)

	return s, nil
}

type ffmpegStream struct {
	id       string
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	chunks   chan Chunk
	finished chan struct{}
	logger   *zap.Logger

	stopOnce sync.Once
	mu       sync.Mutex
	err      error
	stopped  bool
}

func (s *ffmpegStream) ID() string           { return s.id }
func (s *ffmpegStream) Chunks() <-chan Chunk { return s.chunks }

func (s *ffmpegStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.cancel()
		<-s.finished
	})
	return nil
}

func (s *ffmpegStream) pump(ctx context.Context, stdout io.Reader, stderr *limitedBuffer, chunkSize int) {
	defer close(s.finished)
	defer close(s.chunks)

	var seq int64
	buf := make([]byte, chunkSize)
read:
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			seq++
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case s.chunks <- Chunk{Seq: seq, Data: data, At: time.Now()}:
			case <-ctx.Done():
				break read
			}
		}
		// Only a contiguous prefix is delivered once the stream is stopped.
		if readErr != nil || ctx.Err() != nil {
			break
		}
	}

	waitErr := s.cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if waitErr != nil {
		s.err = classifyFFmpegError(stderr.String(), waitErr)
		s.logger.Warn("ffmpeg exited", zap.Error(s.err), zap.String("stderr", stderr.String()))
	}
}

func probeDevice(device string) error {
	if _, err := os.Stat(device); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", device, ErrDeviceUnavailable)
		}
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%s: %w", device, ErrPermissionDenied)
		}
		return fmt.Errorf("%s: %v: %w", device, err, ErrDeviceUnavailable)
	}

	f, err := os.Open(device)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%s: %w", device, ErrPermissionDenied)
		}
		return fmt.Errorf("%s: %v: %w", device, err, ErrDeviceUnavailable)
	}
	return f.Close()
}

func classifyFFmpegError(stderr string, err error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"):
		return fmt.Errorf("ffmpeg: %w", ErrPermissionDenied)
	case strings.Contains(lower, "device or resource busy"),
		strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "no such device"):
		return fmt.Errorf("ffmpeg: %w", ErrDeviceUnavailable)
	default:
		return fmt.Errorf("ffmpeg: %v: %w", err, ErrDeviceUnavailable)
	}
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
