package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the wavecore agent.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Conversion metrics
	Conversions         *prometheus.CounterVec
	ConversionFailures  *prometheus.CounterVec
	ConversionDuration  prometheus.Histogram
	ConversionInputSize prometheus.Histogram
	ActiveConversions   prometheus.Gauge

	// Capture metrics
	CaptureSessions prometheus.Counter
	CaptureActive   prometheus.Gauge
	CaptureDuration prometheus.Histogram
	CaptureChunks   prometheus.Counter
	CaptureErrors   *prometheus.CounterVec

	// Volume monitor metrics
	VolumeMonitors prometheus.Gauge
	VolumeSamples  prometheus.Counter

	// Submission metrics
	Submissions        *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec

	// Remote service metrics
	RemoteRequests        *prometheus.CounterVec
	RemoteRequestDuration *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Conversion metrics
		Conversions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavecore_conversions_total",
			Help: "Total number of media conversions by result",
		}, []string{"result"}),
		ConversionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavecore_conversion_failures_total",
			Help: "Total number of failed conversions by failure kind",
		}, []string{"kind"}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavecore_conversion_duration_seconds",
			Help:    "Time spent converting media to canonical WAV",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		ConversionInputSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavecore_conversion_input_bytes",
			Help:    "Size of media passed to the converter",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		}),
		ActiveConversions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wavecore_active_conversions",
			Help: "Current number of conversions in progress",
		}),

		// Capture metrics
		CaptureSessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavecore_capture_sessions_total",
			Help: "Total number of capture sessions started",
		}),
		CaptureActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wavecore_capture_active",
			Help: "1 while a capture session is recording",
		}),
		CaptureDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wavecore_capture_duration_seconds",
			Help:    "Length of captured audio",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		CaptureChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavecore_capture_chunks_total",
			Help: "Total number of audio chunks buffered by capture sessions",
		}),
		CaptureErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavecore_capture_errors_total",
			Help: "Total number of capture failures by type",
		}, []string{"error_type"}),

		// Volume monitor metrics
		VolumeMonitors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wavecore_volume_monitors",
			Help: "Current number of attached volume monitors",
		}),
		VolumeSamples: factory.NewCounter(prometheus.CounterOpts{
			Name: "wavecore_volume_samples_total",
			Help: "Total number of volume samples emitted",
		}),

		// Submission metrics
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavecore_submissions_total",
			Help: "Total number of finished operations by kind and status",
		}, []string{"kind", "status"}),
		SubmissionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wavecore_submission_duration_seconds",
			Help:    "Time from pending to finished for each operation",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"kind"}),

		// Remote service metrics
		RemoteRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavecore_remote_requests_total",
			Help: "Total number of requests to the match service",
		}, []string{"endpoint", "status"}),
		RemoteRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wavecore_remote_request_duration_seconds",
			Help:    "Duration of requests to the match service",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"endpoint"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavecore_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wavecore_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wavecore_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordConversionStart marks a conversion as in progress
func (m *Metrics) RecordConversionStart(inputBytes int) {
	if m == nil {
		return
	}
	m.ActiveConversions.Inc()
	m.ConversionInputSize.Observe(float64(inputBytes))
}

// RecordConversionSuccess records a finished conversion
func (m *Metrics) RecordConversionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveConversions.Dec()
	m.Conversions.WithLabelValues("success").Inc()
	m.ConversionDuration.Observe(durationSeconds)
}

// RecordConversionFailure records a failed conversion with its failure kind
func (m *Metrics) RecordConversionFailure(kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveConversions.Dec()
	m.Conversions.WithLabelValues("failure").Inc()
	m.ConversionFailures.WithLabelValues(kind).Inc()
	m.ConversionDuration.Observe(durationSeconds)
}

// RecordCaptureStarted records a new recording
func (m *Metrics) RecordCaptureStarted() {
	if m == nil {
		return
	}
	m.CaptureSessions.Inc()
	m.CaptureActive.Set(1)
}

// RecordCaptureStopped records the end of a recording and its length
func (m *Metrics) RecordCaptureStopped(durationSeconds float64) {
	if m == nil {
		return
	}
	m.CaptureActive.Set(0)
	m.CaptureDuration.Observe(durationSeconds)
}

// RecordCaptureChunk increments the buffered chunk counter
func (m *Metrics) RecordCaptureChunk() {
	if m == nil {
		return
	}
	m.CaptureChunks.Inc()
}

// RecordCaptureError records a capture failure
func (m *Metrics) RecordCaptureError(errorType string) {
	if m == nil {
		return
	}
	m.CaptureErrors.WithLabelValues(errorType).Inc()
}

// RecordVolumeAttached increments the attached monitor gauge
func (m *Metrics) RecordVolumeAttached() {
	if m == nil {
		return
	}
	m.VolumeMonitors.Inc()
}

// RecordVolumeDetached decrements the attached monitor gauge
func (m *Metrics) RecordVolumeDetached() {
	if m == nil {
		return
	}
	m.VolumeMonitors.Dec()
}

// RecordVolumeSample increments the emitted volume sample counter
func (m *Metrics) RecordVolumeSample() {
	if m == nil {
		return
	}
	m.VolumeSamples.Inc()
}

// RecordSubmission records a finished operation
func (m *Metrics) RecordSubmission(kind, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(kind, status).Inc()
	m.SubmissionDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordRemoteRequest records a request to the match service
func (m *Metrics) RecordRemoteRequest(endpoint, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RemoteRequests.WithLabelValues(endpoint, status).Inc()
	m.RemoteRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
