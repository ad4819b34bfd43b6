package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RemoteStream is fed by an external producer, typically a browser pushing
// MediaRecorder output over a websocket.
type RemoteStream struct {
	id     string
	chunks chan Chunk
	done   chan struct{}

	mu       sync.RWMutex
	seq      atomic.Int64
	stopOnce sync.Once
}

func NewRemoteStream(buffer int) *RemoteStream {
	if buffer <= 0 {
		buffer = 16
	}
	return &RemoteStream{
		id:     uuid.New().String(),
		chunks: make(chan Chunk, buffer),
		done:   make(chan struct{}),
	}
}

func (s *RemoteStream) ID() string           { return s.id }
func (s *RemoteStream) Chunks() <-chan Chunk { return s.chunks }
func (s *RemoteStream) Err() error           { return nil }

// Push copies data into a new chunk. It blocks while the buffer is full and
// returns ErrStreamStopped once Stop has been called. Empty payloads are ignored.
func (s *RemoteStream) Push(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.done:
		return ErrStreamStopped
	default:
	}

	if len(data) == 0 {
		return nil
	}

	payload := make([]byte, len(data))
	copy(payload, data)

	chunk := Chunk{Seq: s.seq.Add(1), Data: payload, At: time.Now()}

	select {
	case s.chunks <- chunk:
		return nil
	case <-s.done:
		return ErrStreamStopped
	}
}

func (s *RemoteStream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		// Wait for in-flight pushes before closing the channel.
		s.mu.Lock()
		close(s.chunks)
		s.mu.Unlock()
	})
	return nil
}
