package stream

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus instruments for the streaming pipeline.
// All methods are nil-safe so components can run unmetered in tests.
type Metrics struct {
	registry             *prometheus.Registry
	framesTotal          prometheus.Counter
	segmentRequestsTotal prometheus.Counter
	bytesServedTotal     prometheus.Counter
	requestErrorsTotal   prometheus.Counter
	sessionActive        prometheus.Gauge
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	framesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "screenbeam_frames_total",
		Help: "Raw frames delivered to the encoder",
	})
	segmentRequestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "screenbeam_segment_requests_total",
		Help: "HTTP requests for media segments and manifests",
	})
	bytesServedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "screenbeam_bytes_served_total",
		Help: "Stream bytes written to HTTP clients",
	})
	requestErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "screenbeam_request_errors_total",
		Help: "HTTP responses with error status (4xx or 5xx)",
	})
	sessionActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "screenbeam_session_active",
		Help: "Whether a stream session is currently active",
	})

	registry.MustRegister(
		framesTotal,
		segmentRequestsTotal,
		bytesServedTotal,
		requestErrorsTotal,
		sessionActive,
	)

	return &Metrics{
		registry:             registry,
		framesTotal:          framesTotal,
		segmentRequestsTotal: segmentRequestsTotal,
		bytesServedTotal:     bytesServedTotal,
		requestErrorsTotal:   requestErrorsTotal,
		sessionActive:        sessionActive,
	}
}

// IncFrames counts one frame handed to the encoder.
func (m *Metrics) IncFrames() {
	if m != nil {
		m.framesTotal.Inc()
	}
}

// IncSegmentRequests counts one stream file request.
func (m *Metrics) IncSegmentRequests() {
	if m != nil {
		m.segmentRequestsTotal.Inc()
	}
}

// AddBytesServed counts stream bytes written to a client.
func (m *Metrics) AddBytesServed(n int) {
	if m != nil {
		m.bytesServedTotal.Add(float64(n))
	}
}

// IncRequestErrors counts one error response.
func (m *Metrics) IncRequestErrors() {
	if m != nil {
		m.requestErrorsTotal.Inc()
	}
}

// SetSessionActive flips the active-session gauge.
func (m *Metrics) SetSessionActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.sessionActive.Set(1)
	} else {
		m.sessionActive.Set(0)
	}
}

// Handler serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
