package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the AudioHook server.
// All recording methods are safe to call on a nil *Metrics, which disables
// recording (e.g. in tests).
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter

	sessionsOpenedTotal  prometheus.Counter
	sessionsClosedTotal  prometheus.Counter
	sessionsAbortedTotal prometheus.Counter
	probesTotal          prometheus.Counter
	activeSessions       prometheus.Gauge

	controlMessagesTotal *prometheus.CounterVec
	malformedFramesTotal prometheus.Counter
	mediaBytesTotal      prometheus.Counter
	mediaDroppedTotal    prometheus.Counter
	captureErrorsTotal   prometheus.Counter

	finalizeFailuresTotal *prometheus.CounterVec
	finalizeSeconds       prometheus.Histogram
	uploadsTotal          *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsOpenedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_sessions_opened_total",
			Help: "Total number of sessions acknowledged with opened",
		}),
		sessionsClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_sessions_closed_total",
			Help: "Total number of sessions that reached the closed state",
		}),
		sessionsAbortedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_sessions_aborted_total",
			Help: "Total number of sessions that were aborted",
		}),
		probesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_probe_sessions_total",
			Help: "Total number of connectivity probe sessions",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiohook_active_sessions",
			Help: "Number of sessions currently in the live registry",
		}),
		controlMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiohook_control_messages_total",
			Help: "Inbound control messages by type",
		}, []string{"type"}),
		malformedFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_malformed_frames_total",
			Help: "Inbound frames dropped because they could not be decoded",
		}),
		mediaBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_media_bytes_total",
			Help: "Audio bytes accepted for capture",
		}),
		mediaDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_media_frames_dropped_total",
			Help: "Audio frames discarded because the session was not capturing",
		}),
		captureErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiohook_capture_errors_total",
			Help: "Failed writes or opens of the local capture artifact",
		}),
		finalizeFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiohook_finalize_stage_failures_total",
			Help: "Finalize pipeline stage failures by stage",
		}, []string{"stage"}),
		finalizeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiohook_finalize_duration_seconds",
			Help:    "Wall-clock duration of the finalize pipeline",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiohook_uploads_total",
			Help: "Object store upload attempts by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsOpenedTotal,
		m.sessionsClosedTotal,
		m.sessionsAbortedTotal,
		m.probesTotal,
		m.activeSessions,
		m.controlMessagesTotal,
		m.malformedFramesTotal,
		m.mediaBytesTotal,
		m.mediaDroppedTotal,
		m.captureErrorsTotal,
		m.finalizeFailuresTotal,
		m.finalizeSeconds,
		m.uploadsTotal,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

func (m *Metrics) IncSessionsOpened() {
	if m == nil {
		return
	}
	m.sessionsOpenedTotal.Inc()
}

func (m *Metrics) IncSessionsClosed() {
	if m == nil {
		return
	}
	m.sessionsClosedTotal.Inc()
}

func (m *Metrics) IncSessionsAborted() {
	if m == nil {
		return
	}
	m.sessionsAbortedTotal.Inc()
}

func (m *Metrics) IncProbes() {
	if m == nil {
		return
	}
	m.probesTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// IncControlMessages counts one inbound control message of the given type.
func (m *Metrics) IncControlMessages(msgType string) {
	if m == nil {
		return
	}
	m.controlMessagesTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncMalformedFrames() {
	if m == nil {
		return
	}
	m.malformedFramesTotal.Inc()
}

// AddMediaBytes records n captured audio bytes.
func (m *Metrics) AddMediaBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mediaBytesTotal.Add(float64(n))
}

func (m *Metrics) IncMediaDropped() {
	if m == nil {
		return
	}
	m.mediaDroppedTotal.Inc()
}

func (m *Metrics) IncCaptureErrors() {
	if m == nil {
		return
	}
	m.captureErrorsTotal.Inc()
}

// IncFinalizeFailures counts one failed finalize stage.
func (m *Metrics) IncFinalizeFailures(stage string) {
	if m == nil {
		return
	}
	m.finalizeFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveFinalize records the duration of one finalize run in seconds.
func (m *Metrics) ObserveFinalize(seconds float64) {
	if m == nil {
		return
	}
	m.finalizeSeconds.Observe(seconds)
}

// IncUploads counts an upload attempt; result is "ok" or "error".
func (m *Metrics) IncUploads(result string) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(result).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
