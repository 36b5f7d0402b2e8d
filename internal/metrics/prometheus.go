package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recognition engine.
// It satisfies the recorder interfaces of the transport and session
// packages so a single instance is wired through the whole pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// WebSocket transport metrics
	FramesSent        prometheus.Counter
	FramesReceived    prometheus.Counter
	BytesSent         prometheus.Counter
	BytesReceived     prometheus.Counter
	TransportErrors   prometheus.Counter
	HandshakeFailures prometheus.Counter

	// Session metrics
	SessionsStarted   *prometheus.CounterVec
	SessionsFinalized *prometheus.CounterVec
	SessionChars      prometheus.Counter
	SessionDuration   prometheus.Histogram
	CommitsTotal      prometheus.Counter
	CommittedChars    prometheus.Counter
	ServerErrors      *prometheus.CounterVec

	// Audio pipeline metrics
	AudioChunksSent prometheus.Counter
	AudioBytesSent  prometheus.Counter
	LastChunksSent  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_ws_frames_sent_total",
			Help: "Total number of WebSocket data frames sent",
		}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_ws_frames_received_total",
			Help: "Total number of WebSocket messages received",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_ws_bytes_sent_total",
			Help: "Total payload bytes sent over the WebSocket",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_ws_bytes_received_total",
			Help: "Total payload bytes received over the WebSocket",
		}),
		TransportErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_ws_transport_errors_total",
			Help: "Total number of transport read or write errors",
		}),
		HandshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_ws_handshake_failures_total",
			Help: "Total number of failed WebSocket upgrade handshakes",
		}),

		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_sessions_started_total",
			Help: "Total number of recognition sessions started",
		}, []string{"mode"}),
		SessionsFinalized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_sessions_finalized_total",
			Help: "Total number of recognition sessions finalized",
		}, []string{"outcome"}),
		SessionChars: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_session_chars_total",
			Help: "Total non-whitespace characters across finalized sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_session_duration_seconds",
			Help:    "Duration of recognition sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		CommitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_commits_total",
			Help: "Total number of committed transcript fragments",
		}),
		CommittedChars: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_committed_chars_total",
			Help: "Total non-whitespace characters committed",
		}),
		ServerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_server_errors_total",
			Help: "Total number of error responses from the recognition service",
		}, []string{"code"}),

		AudioChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_chunks_sent_total",
			Help: "Total number of audio chunks sent",
		}),
		AudioBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_bytes_sent_total",
			Help: "Total PCM bytes sent to the recognition service",
		}),
		LastChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_last_chunks_sent_total",
			Help: "Total number of final audio chunks sent",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFrameSent records an outbound data frame.
func (m *Metrics) RecordFrameSent(bytes int) {
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

// RecordFrameReceived records an inbound message.
func (m *Metrics) RecordFrameReceived(bytes int) {
	m.FramesReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordTransportError increments the transport error counter.
func (m *Metrics) RecordTransportError() {
	m.TransportErrors.Inc()
}

// RecordHandshakeFailure increments the handshake failure counter.
func (m *Metrics) RecordHandshakeFailure() {
	m.HandshakeFailures.Inc()
}

// RecordSessionStarted records a session start in the given mode.
func (m *Metrics) RecordSessionStarted(mode string) {
	m.SessionsStarted.WithLabelValues(mode).Inc()
}

// RecordSessionFinalized records a finished session and its totals.
func (m *Metrics) RecordSessionFinalized(outcome string, chars int, seconds float64) {
	m.SessionsFinalized.WithLabelValues(outcome).Inc()
	m.SessionChars.Add(float64(chars))
	m.SessionDuration.Observe(seconds)
}

// RecordCommit records a committed transcript fragment.
func (m *Metrics) RecordCommit(chars int) {
	m.CommitsTotal.Inc()
	m.CommittedChars.Add(float64(chars))
}

// RecordServerError records an error response by code.
func (m *Metrics) RecordServerError(code uint32) {
	m.ServerErrors.WithLabelValues(strconv.FormatUint(uint64(code), 10)).Inc()
}

// RecordAudioChunk records an outbound audio chunk.
func (m *Metrics) RecordAudioChunk(bytes int, last bool) {
	m.AudioChunksSent.Inc()
	m.AudioBytesSent.Add(float64(bytes))
	if last {
		m.LastChunksSent.Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
