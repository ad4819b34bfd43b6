package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(app *App, staticDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", app.HomeHandler)
	r.Get("/ping", PingHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/demo", func(r chi.Router) {
		r.Post("/file", app.FileHandler)
		r.Post("/camera/start", app.CameraStartHandler)
		r.Post("/camera/stop", app.CameraStopHandler)
		r.Get("/capture", app.CaptureHandler)
		r.Get("/pending", app.PendingHandler)
		r.Post("/upload", app.UploadHandler)
		r.Post("/clear", app.ClearHandler)
		r.Get("/results", app.ResultsHandler)
		r.Get("/state", app.StateHandler)
		r.Get("/history", app.HistoryHandler)
	})

	if staticDir != "" {
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Handle("/static/*", http.StripPrefix("/static", fileServer))
	}

	return r
}
