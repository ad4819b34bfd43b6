package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kdimtricp/lipreader/internal/capture"
	"go.uber.org/zap"
)

const (
	stopMessage   = "stop"
	captureBuffer = 32
	writeTimeout  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 4 * 1024,
}

type captureReply struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	PendingID string `json:"pending_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// CaptureHandler records chunks pushed by the browser's MediaRecorder. Binary
// messages are chunks in order; a "stop" text message finalizes the recording.
// Disconnecting without "stop" discards the recording.
func (app *App) CaptureHandler(w http.ResponseWriter, r *http.Request) {
	s := app.session(w, r)
	logger := app.Logger.With(zap.String("session_id", s.ID))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	if app.MaxUploadSize > 0 {
		conn.SetReadLimit(app.MaxUploadSize)
	}

	stream := capture.NewRemoteStream(captureBuffer)
	if err := s.AdoptStream(stream); err != nil {
		stream.Stop()
		app.writeReply(conn, captureReply{Error: err.Error()})
		return
	}

	finalized := false
	defer func() {
		if !finalized {
			s.CancelRecording()
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("capture connection lost", zap.Error(err))
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			// Chunks past a recording limit are dropped.
			if err := stream.Push(data); err != nil && !errors.Is(err, capture.ErrStreamStopped) {
				logger.Warn("failed to push chunk", zap.Error(err))
			}
			s.Touch()
		case websocket.TextMessage:
			if string(data) != stopMessage {
				continue
			}
			finalized = true
			pending, blob, err := s.StopRecording(r.Context())
			if err != nil {
				app.writeReply(conn, captureReply{Error: err.Error()})
				return
			}
			app.writeReply(conn, captureReply{
				OK:        true,
				PendingID: pending.ID,
				Name:      pending.Name,
				Size:      pending.Size,
				Truncated: blob.Truncated,
			})
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

func (app *App) writeReply(conn *websocket.Conn, reply captureReply) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(reply); err != nil {
		app.Logger.Warn("failed to write capture reply", zap.Error(err))
	}
}
