package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionsEvicted prometheus.Counter
	SessionsRefused prometheus.Counter

	// Audio pipeline metrics
	AudioBytesReceived prometheus.Counter
	WindowsFlushed     prometheus.Counter
	WindowsSilent      prometheus.Counter

	// Inference metrics
	InferenceDuration     prometheus.Histogram
	TranscriptionFailures prometheus.Counter
	ModelLoads            prometheus.Counter
	ModelLoadFailures     prometheus.Counter

	// Protocol metrics
	FramesIn  *prometheus.CounterVec
	FramesOut *prometheus.CounterVec
}

// New creates all service metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "verbatim_active_sessions",
			Help: "Current number of active transcription sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "verbatim_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "verbatim_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "verbatim_sessions_evicted_total",
			Help: "Total number of sessions evicted by the idle sweep",
		}),
		SessionsRefused: factory.NewCounter(prometheus.CounterOpts{
			Name: "verbatim_sessions_refused_total",
			Help: "Total number of sessions refused at the admission cap",
		}),
		AudioBytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "verbatim_audio_bytes_received_total",
			Help: "Total audio bytes received across all sessions",
		}),
		WindowsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "verbatim_windows_flushed_total",
			Help: "Total audio windows flushed for processing",
		}),
		WindowsSilent: factory.NewCounter(prometheus.CounterOpts{
			Name: "verbatim_windows_silent_total",
			Help: "Total audio windows discarded by voice activity detection",
		}),
		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "verbatim_inference_duration_seconds",
			Help:    "Duration of speech recognition invocations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "verbatim_transcription_failures_total",
			Help: "Total failed transcription invocations",
		}),
		ModelLoads: factory.NewCounter(prometheus.CounterOpts{
			Name: "verbatim_model_loads_total",
			Help: "Total successful model loads",
		}),
		ModelLoadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "verbatim_model_load_failures_total",
			Help: "Total failed model loads",
		}),
		FramesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verbatim_frames_in_total",
			Help: "Inbound websocket frames by kind",
		}, []string{"kind"}),
		FramesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verbatim_frames_out_total",
			Help: "Outbound websocket frames by kind",
		}, []string{"kind"}),
	}
}
