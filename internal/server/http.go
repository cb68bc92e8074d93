package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/wavecore/internal/capture"
	"github.com/skypro1111/wavecore/internal/config"
	"github.com/skypro1111/wavecore/internal/convert"
	"github.com/skypro1111/wavecore/internal/metrics"
	"github.com/skypro1111/wavecore/internal/remote"
	"github.com/skypro1111/wavecore/internal/submit"
)

// Library lists the files stored by the match service
type Library interface {
	List(ctx context.Context) ([]string, error)
}

// Deps are the components the HTTP API drives
type Deps struct {
	Converter   *convert.Converter
	Coordinator *submit.Coordinator
	Library     Library
	Recorder    *capture.Recorder // nil when capture is disabled
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // nil serves the default registry
}

// HTTPServer provides the local agent API
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	deps    Deps
	metrics *metrics.Metrics
	live    *liveCapture

	origins  *originPolicy
	upgrader *websocket.Upgrader

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, deps Deps, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		deps:      deps,
		metrics:   deps.Metrics,
		startTime: time.Now(),
	}
	h.live = newLiveCapture(deps.Recorder, appConfig.Volume, deps.Metrics, logger)
	h.origins = newOriginPolicy(appConfig.HTTP.AllowedOrigins)
	h.upgrader = h.origins.upgrader()

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	// Uploads and conversions can take as long as both remote and converter timeouts
	writeTimeout := appConfig.Service.GetTimeoutDuration() + appConfig.Converter.GetTimeoutDuration() + 30*time.Second

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:           h.withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the route multiplexer
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Conversion and submission endpoints
	mux.HandleFunc("/convert", h.withMetrics("/convert", h.handleConvert))
	mux.HandleFunc("/save", h.withMetrics("/save", h.handleSave))
	mux.HandleFunc("/search", h.withMetrics("/search", h.handleSearch))
	mux.HandleFunc("/list", h.withMetrics("/list", h.handleList))
	mux.HandleFunc("/download", h.withMetrics("/download", h.handleDownload))

	// Operation tracking endpoints
	mux.HandleFunc("/operations", h.withMetrics("/operations", h.handleOperations))
	mux.HandleFunc("/operations/reset", h.withMetrics("/operations/reset", h.handleOperationReset))

	// Live capture endpoints
	mux.HandleFunc("/capture/start", h.withMetrics("/capture/start", h.handleCaptureStart))
	mux.HandleFunc("/capture/stop", h.withMetrics("/capture/stop", h.handleCaptureStop))
	mux.HandleFunc("/capture/cancel", h.withMetrics("/capture/cancel", h.handleCaptureCancel))
	mux.HandleFunc("/capture/level", h.withMetrics("/capture/level", h.handleCaptureLevel))
	mux.HandleFunc("/capture/level/ws", h.handleCaptureLevelWS)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop cancels any live capture and gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.live.shutdown()

	return h.server.Shutdown(ctx)
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps core errors onto HTTP status codes
func errorStatus(err error) int {
	var statusErr *remote.StatusError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.Is(err, convert.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, convert.ErrEngineFailure):
		return http.StatusInternalServerError
	case errors.Is(err, capture.ErrPermissionDenied), errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrSessionActive), errors.Is(err, capture.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, capture.ErrMissingFileName), errors.As(err, &statusErr):
		return http.StatusBadGateway
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err as a JSON error body
func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= 500 {
		h.logger.Error("Request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, map[string]interface{}{
		"error":  err.Error(),
		"status": status,
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	converterStats := h.deps.Converter.GetStats()

	captureStatus := "disabled"
	if h.deps.Recorder != nil {
		captureStatus = h.deps.Recorder.State().String()
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "wavecore",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"converter": map[string]interface{}{
				"status":             "running",
				"backend":            converterStats.Backend,
				"active_conversions": converterStats.ActiveConversions,
			},
			"capture": map[string]interface{}{
				"status": captureStatus,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"address":       h.config.HTTP.Address,
			"port":          h.config.HTTP.Port,
			"max_upload_mb": h.config.HTTP.MaxUploadMB,
		},
		"service": map[string]interface{}{
			"base_url":       h.config.Service.BaseURL,
			"save_path":      h.config.Service.SavePath,
			"search_path":    h.config.Service.SearchPath,
			"list_path":      h.config.Service.ListPath,
			"download_path":  h.config.Service.DownloadPath,
			"timeout":        h.config.Service.Timeout,
			"max_concurrent": h.config.Service.MaxConcurrent,
			// API key omitted
		},
		"converter": map[string]interface{}{
			"backend":        h.config.Converter.Backend,
			"ffmpeg_path":    h.config.Converter.FFmpegPath,
			"timeout":        h.config.Converter.Timeout,
			"max_concurrent": h.config.Converter.MaxConcurrent,
		},
		"capture": map[string]interface{}{
			"enabled":           h.config.Capture.Enabled,
			"device":            h.config.Capture.Device,
			"sample_rate":       h.config.Capture.SampleRate,
			"channels":          h.config.Capture.Channels,
			"frames_per_buffer": h.config.Capture.FramesPerBuffer,
			"max_duration":      h.config.Capture.MaxDuration,
		},
		"volume": map[string]interface{}{
			"interval_ms": h.config.Volume.IntervalMS,
			"window_size": h.config.Volume.WindowSize,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	operations := h.deps.Coordinator.Operations()
	byStatus := make(map[submit.OperationStatus]int)
	for _, op := range operations {
		byStatus[op.Status]++
	}

	stats := map[string]interface{}{
		"uptime":     time.Since(h.startTime).String(),
		"timestamp":  time.Now().UTC(),
		"converter":  h.deps.Converter.GetStats(),
		"operations": byStatus,
		"capture":    h.live.info(),
	}

	if s, ok := h.deps.Library.(interface{ GetStats() remote.ClientStats }); ok {
		stats["remote"] = s.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "wavecore media agent",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                      "API documentation",
			"GET /health":                "Service health check",
			"GET /config":                "Get agent configuration",
			"GET /stats":                 "Get agent statistics",
			"GET /metrics":               "Prometheus metrics",
			"POST /convert":              "Convert an uploaded file to canonical WAV",
			"POST /save":                 "Convert and save uploaded files",
			"POST /search":               "Convert and search an uploaded file",
			"GET /list":                  "List files stored by the match service",
			"POST /download?url=":        "Download media and convert it to canonical WAV",
			"GET /operations":            "List tracked operations",
			"DELETE /operations":         "Forget finished operations",
			"POST /operations/reset?id=": "Reset a finished operation to idle",
			"POST /capture/start":        "Start recording from the microphone",
			"POST /capture/stop":         "Stop recording; action=search or action=save submits it",
			"POST /capture/cancel":       "Stop recording and discard it",
			"GET /capture/level":         "Current input level",
			"GET /capture/level/ws":      "Input level feed over WebSocket",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
