package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kdimtricp/lipreader/internal/database"
	"github.com/kdimtricp/lipreader/internal/demo"
	"github.com/kdimtricp/lipreader/internal/intake"
	"github.com/kdimtricp/lipreader/internal/presenter"
	"go.uber.org/zap"
)

const (
	// multipartOverhead is headroom for form boundaries and part headers.
	multipartOverhead = 1 << 20

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (app *App) FileHandler(w http.ResponseWriter, r *http.Request) {
	s := app.session(w, r)

	if app.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			app.renderError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		app.renderError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		app.renderError(w, http.StatusBadRequest, "Failed to get file")
		return
	}
	defer file.Close()

	contentType := intake.DetectContentType(header.Header.Get("Content-Type"), header.Filename)
	pending, err := s.Accept(r.Context(), file, header.Filename, contentType, header.Size, intake.SourceSelected)
	if err != nil {
		app.renderFailure(w, err)
		return
	}

	w.Header().Set("HX-Trigger", "pendingChanged")
	app.renderSuccess(w, fmt.Sprintf("Ready to upload: %s (%s)", pending.Name, formatFileSize(pending.Size)))
}

func (app *App) CameraStartHandler(w http.ResponseWriter, r *http.Request) {
	s := app.session(w, r)

	if err := s.StartRecording(r.Context()); err != nil {
		app.renderFailure(w, err)
		return
	}

	w.Header().Set("HX-Trigger", "recordingChanged")
	app.renderSuccess(w, "Recording...")
}

func (app *App) CameraStopHandler(w http.ResponseWriter, r *http.Request) {
	s := app.session(w, r)

	pending, blob, err := s.StopRecording(r.Context())
	if err != nil {
		app.renderFailure(w, err)
		return
	}

	message := fmt.Sprintf("Recording ready: %s", formatFileSize(pending.Size))
	if blob.Truncated {
		message += " (limit reached)"
	}
	w.Header().Set("HX-Trigger", "pendingChanged, recordingChanged")
	app.renderSuccess(w, message)
}

func (app *App) UploadHandler(w http.ResponseWriter, r *http.Request) {
	s := app.session(w, r)

	result, err := s.Upload(r.Context())
	if err != nil {
		app.renderFailure(w, err)
		return
	}

	w.Header().Set("HX-Trigger", "pendingChanged")
	app.renderSuccess(w, "Upload successful!")
	if err := presenter.HTML(w, presenter.NewView(result.Predictions, result.SaliencyURL)); err != nil {
		app.Logger.Error("failed to render results", zap.Error(err))
	}
}

func (app *App) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	s := app.session(w, r)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := presenter.HTML(w, s.View()); err != nil {
		app.Logger.Error("failed to render results", zap.Error(err))
	}
}

func (app *App) ClearHandler(w http.ResponseWriter, r *http.Request) {
	s := app.session(w, r)
	s.Clear(r.Context())

	w.Header().Set("HX-Trigger", "pendingChanged")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	presenter.HTML(w, presenter.View{})
}

func (app *App) StateHandler(w http.ResponseWriter, r *http.Request) {
	s := app.session(w, r)
	app.writeJSON(w, http.StatusOK, s.Snapshot())
}

func (app *App) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	s := app.session(w, r)

	records := []database.UploadRecord{}
	if app.History != nil {
		list, err := app.History.ListBySession(r.Context(), s.ID, historyLimit(r))
		if err != nil {
			app.Logger.Error("failed to list history", zap.Error(err))
			http.Error(w, "Error loading history", http.StatusInternalServerError)
			return
		}
		if list != nil {
			records = list
		}
	}
	app.writeJSON(w, http.StatusOK, records)
}

func historyLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	switch {
	case err != nil || limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return limit
	}
}

// PendingHandler streams the pending file with Range support for the preview player.
func (app *App) PendingHandler(w http.ResponseWriter, r *http.Request) {
	s := app.session(w, r)

	pending, file, err := s.OpenPending(r.Context())
	if errors.Is(err, demo.ErrNoPendingFile) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "Pending file not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", pending.ContentType)
	http.ServeContent(w, r, pending.Name, pending.StagedAt, file)
}
