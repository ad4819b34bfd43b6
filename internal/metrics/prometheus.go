package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lipreader_uploads_total",
		Help: "Total number of uploads sent to the inference backend, by outcome",
	}, []string{"outcome"})

	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lipreader_upload_duration_seconds",
		Help:    "Duration of the inference backend round trip",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	UploadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lipreader_uploads_in_flight",
		Help: "Number of uploads currently waiting on the inference backend",
	})

	IntakeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lipreader_intake_total",
		Help: "Files offered for upload, by source and result",
	}, []string{"source", "result"})

	RecordingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lipreader_recordings_total",
		Help: "Total number of finalized recordings",
	})

	RecordedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lipreader_recorded_bytes",
		Help:    "Size of finalized recordings in bytes",
		Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10),
	})

	CameraActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lipreader_camera_activations_total",
		Help: "Camera activation attempts, by result",
	}, []string{"result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lipreader_active_sessions",
		Help: "Number of demo sessions held in memory",
	})
)
