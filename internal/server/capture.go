package server

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/wavecore/internal/audio"
	"github.com/skypro1111/wavecore/internal/capture"
	"github.com/skypro1111/wavecore/internal/config"
	"github.com/skypro1111/wavecore/internal/metrics"
	"github.com/skypro1111/wavecore/internal/volume"
)

// errCaptureDisabled is returned by capture endpoints when no recorder is configured
var errCaptureDisabled = errors.New("capture is disabled")

// liveCapture pairs the recording session with its volume monitor
type liveCapture struct {
	recorder *capture.Recorder
	volume   config.VolumeConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	session *capture.Session
	detach  func()

	level atomic.Uint64 // math.Float64bits of the latest reading
}

func newLiveCapture(recorder *capture.Recorder, cfg config.VolumeConfig, m *metrics.Metrics, logger *slog.Logger) *liveCapture {
	return &liveCapture{
		recorder: recorder,
		volume:   cfg,
		metrics:  m,
		logger:   logger,
	}
}

// start opens a session and attaches a volume monitor to it
func (l *liveCapture) start(r *http.Request) (*capture.Session, error) {
	if l.recorder == nil {
		return nil, errCaptureDisabled
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	session, err := l.recorder.Start(r.Context())
	if err != nil {
		return nil, err
	}

	l.session = session
	l.detach = volume.Attach(session.Stream(), l.setLevel,
		volume.WithInterval(l.volume.GetInterval()),
		volume.WithWindowSize(l.volume.WindowSize),
		volume.WithLogger(l.logger),
		volume.WithMetrics(l.metrics),
	)

	return session, nil
}

// take detaches the monitor and hands over the session
func (l *liveCapture) take() (*capture.Session, error) {
	if l.recorder == nil {
		return nil, errCaptureDisabled
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil {
		return nil, capture.ErrNotRecording
	}

	session := l.session
	l.session = nil
	if l.detach != nil {
		l.detach()
		l.detach = nil
	}
	l.setLevel(0)

	return session, nil
}

// shutdown discards any recording in progress
func (l *liveCapture) shutdown() {
	session, err := l.take()
	if err != nil {
		return
	}
	if err := session.Cancel(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
		l.logger.Warn("Failed to cancel capture session", slog.String("error", err.Error()))
	}
}

func (l *liveCapture) setLevel(v float64) {
	l.level.Store(math.Float64bits(v))
}

// currentLevel returns the latest reading in [0, 1]
func (l *liveCapture) currentLevel() float64 {
	return math.Float64frombits(l.level.Load())
}

// info returns the session snapshot, or nil when idle
func (l *liveCapture) info() *capture.SessionInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil {
		return nil
	}
	info := l.session.Info()
	return &info
}

// handleCaptureStart implements the /capture/start endpoint
func (h *HTTPServer) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := h.live.start(r)
	if err != nil {
		h.captureError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session.Info())
}

// handleCaptureStop implements the /capture/stop endpoint
func (h *HTTPServer) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	action := r.URL.Query().Get("action")
	switch action {
	case "", "search", "save":
	default:
		http.Error(w, "Invalid action, expected 'search' or 'save'", http.StatusBadRequest)
		return
	}

	session, err := h.live.take()
	if err != nil {
		h.captureError(w, r, err)
		return
	}

	wav, err := session.Stop(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	switch action {
	case "search":
		op, matches, err := h.deps.Coordinator.SubmitForSearch(r.Context(), wav.Blob())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"recording": wav.Name(),
			"duration":  wav.Duration(),
			"matches":   matches,
			"operation": op.Info(),
		})

	case "save":
		ops := h.deps.Coordinator.SubmitForSave(r.Context(), []audio.MediaBlob{wav.Blob()})
		info := ops[0].Info()
		status := http.StatusOK
		if err := ops[0].Err(); err != nil {
			status = errorStatus(err)
		}
		writeJSON(w, status, map[string]interface{}{
			"recording": wav.Name(),
			"duration":  wav.Duration(),
			"operation": info,
		})

	default:
		writeWAV(w, wav)
	}
}

// handleCaptureCancel implements the /capture/cancel endpoint
func (h *HTTPServer) handleCaptureCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := h.live.take()
	if err != nil {
		h.captureError(w, r, err)
		return
	}

	if err := session.Cancel(); err != nil {
		h.captureError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session.Info())
}

// handleCaptureLevel implements the /capture/level endpoint
func (h *HTTPServer) handleCaptureLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"level":     h.live.currentLevel(),
		"recording": h.live.info() != nil,
	})
}

// handleCaptureLevelWS streams level readings until the client goes away
func (h *HTTPServer) handleCaptureLevelWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Debug("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// Reader drains control frames and notices the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	interval := h.config.Volume.GetInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			msg := map[string]interface{}{
				"level":     h.live.currentLevel(),
				"recording": h.live.info() != nil,
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("WebSocket write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// captureError maps capture failures, including a disabled recorder
func (h *HTTPServer) captureError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errCaptureDisabled) {
		writeJSON(w, http.StatusNotImplemented, map[string]interface{}{
			"error":  err.Error(),
			"status": http.StatusNotImplemented,
		})
		return
	}
	h.writeError(w, r, err)
}
