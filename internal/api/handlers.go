package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kdimtricp/lipreader/internal/capture"
	"github.com/kdimtricp/lipreader/internal/database"
	"github.com/kdimtricp/lipreader/internal/demo"
	"github.com/kdimtricp/lipreader/internal/inference"
	"github.com/kdimtricp/lipreader/internal/intake"
	"github.com/kdimtricp/lipreader/internal/presenter"
	"github.com/kdimtricp/lipreader/internal/recorder"
	"go.uber.org/zap"
)

const sessionCookie = "lipreader_session"

// History lists journaled uploads for a session.
type History interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]database.UploadRecord, error)
}

type App struct {
	Sessions      *demo.Store
	History       History
	MaxUploadSize int64
	BackendURL    string
	TemplatesDir  string
	Logger        *zap.Logger
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (app *App) templatePath(name string) string {
	dir := app.TemplatesDir
	if dir == "" {
		dir = filepath.Join("web", "templates")
	}
	return filepath.Join(dir, name)
}

// session returns the visitor's session, issuing a cookie for a new one.
func (app *App) session(w http.ResponseWriter, r *http.Request) *demo.Session {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}

	s, created := app.Sessions.GetOrCreate(r.Context(), id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    s.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return s
}

func (app *App) HomeHandler(w http.ResponseWriter, r *http.Request) {
	s := app.session(w, r)

	tmpl, err := template.ParseFiles(app.templatePath("demo.html"))
	if err != nil {
		app.Logger.Error("failed to load template", zap.Error(err))
		http.Error(w, "Error loading template", http.StatusInternalServerError)
		return
	}

	var results strings.Builder
	if err := presenter.HTML(&results, s.View()); err != nil {
		http.Error(w, "Error rendering results", http.StatusInternalServerError)
		return
	}

	data := struct {
		Title         string
		State         demo.State
		PendingSize   string
		Results       template.HTML
		MaxUploadSize string
		BackendURL    string
	}{
		Title:         "LipReader Demo",
		State:         s.Snapshot(),
		Results:       template.HTML(results.String()),
		MaxUploadSize: formatFileSize(app.MaxUploadSize),
		BackendURL:    app.BackendURL,
	}
	if data.State.Pending != nil {
		data.PendingSize = formatFileSize(data.State.Pending.Size)
	}

	if err := tmpl.Execute(w, data); err != nil {
		app.Logger.Error("failed to render template", zap.Error(err))
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
		return
	}
}

// Failure alerts always land in the status area, whatever the request targeted.
func alertHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("HX-Retarget", "#status")
	w.Header().Set("HX-Reswap", "innerHTML")
}

func (app *App) renderError(w http.ResponseWriter, status int, message string) {
	alertHeaders(w)
	w.WriteHeader(status)
	fmt.Fprintf(w, `<div class="alert alert-error">%s</div>`, template.HTMLEscapeString(message))
}

func (app *App) renderWarning(w http.ResponseWriter, status int, message string) {
	alertHeaders(w)
	w.WriteHeader(status)
	fmt.Fprintf(w, `<div class="alert alert-warning">%s</div>`, template.HTMLEscapeString(message))
}

func (app *App) renderSuccess(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<div class="alert alert-success">%s</div>`, template.HTMLEscapeString(message))
}

func (app *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.Logger.Warn("failed to encode response", zap.Error(err))
	}
}

// renderFailure maps a demo error to a status and a user-visible alert.
func (app *App) renderFailure(w http.ResponseWriter, err error) {
	var uerr *inference.UploadError
	switch {
	case errors.Is(err, intake.ErrInvalidFileType):
		app.renderWarning(w, http.StatusUnsupportedMediaType, intake.RejectionMessage)
	case errors.Is(err, intake.ErrFileTooLarge):
		app.renderError(w, http.StatusRequestEntityTooLarge, "File too large")
	case errors.Is(err, intake.ErrEmptyFile):
		app.renderError(w, http.StatusBadRequest, "The video is empty")
	case errors.Is(err, capture.ErrPermissionDenied):
		app.renderError(w, http.StatusForbidden, "Camera permission denied")
	case errors.Is(err, capture.ErrDeviceUnavailable):
		app.renderError(w, http.StatusServiceUnavailable, "Camera unavailable")
	case errors.Is(err, recorder.ErrNotRecording):
		app.renderWarning(w, http.StatusConflict, "No recording in progress")
	case errors.Is(err, demo.ErrAlreadyRecording):
		app.renderWarning(w, http.StatusConflict, "A recording is already in progress")
	case errors.Is(err, demo.ErrNoPendingFile):
		app.renderWarning(w, http.StatusBadRequest, "Record or select a video first")
	case errors.Is(err, demo.ErrUploadInFlight):
		app.renderWarning(w, http.StatusConflict, "Upload already in progress")
	case errors.Is(err, demo.ErrPendingReplaced):
		app.renderWarning(w, http.StatusConflict, "The video changed during upload, results discarded")
	case errors.As(err, &uerr):
		app.renderError(w, http.StatusBadGateway, "Upload failed: "+uerr.Error())
	case errors.Is(err, inference.ErrMalformedResponse):
		app.renderError(w, http.StatusBadGateway, "Upload failed: "+err.Error())
	default:
		app.Logger.Error("request failed", zap.Error(err))
		app.renderError(w, http.StatusInternalServerError, "Something went wrong: "+err.Error())
	}
}

func formatFileSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.2f GB", float64(size)/float64(GB))
	case size >= MB:
		return fmt.Sprintf("%.2f MB", float64(size)/float64(MB))
	case size >= KB:
		return fmt.Sprintf("%.2f KB", float64(size)/float64(KB))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
