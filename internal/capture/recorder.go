package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/wavecore/internal/audio"
	"github.com/skypro1111/wavecore/internal/metrics"
)

// Device opens a live input. Open must return an error matching
// ErrPermissionDenied or ErrDeviceUnavailable when access fails.
type Device interface {
	Open(ctx context.Context) (audio.Input, error)
}

// Converter normalizes a finished recording
type Converter interface {
	Convert(ctx context.Context, blob audio.MediaBlob) (audio.CanonicalAudio, error)
}

// Config contains recorder configuration
type Config struct {
	MaxDuration  time.Duration // buffering stops after this long, 0 for no limit
	BufferChunks int           // capacity of the session's chunk queue
}

// Recorder starts capture sessions on a device, at most one at a time
type Recorder struct {
	device    Device
	converter Converter
	config    Config
	logger    *slog.Logger
	metrics   *metrics.Metrics

	active *Session
	mu     sync.Mutex
}

// NewRecorder creates a recorder. logger and m may be nil.
func NewRecorder(device Device, converter Converter, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Recorder {
	if cfg.BufferChunks <= 0 {
		cfg.BufferChunks = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{
		device:    device,
		converter: converter,
		config:    cfg,
		logger:    logger,
		metrics:   m,
	}
}

// Start opens the device and begins buffering. It fails with
// ErrSessionActive while another session is recording, leaving that
// session untouched.
func (r *Recorder) Start(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.active.State() == StateRecording {
		r.metrics.RecordCaptureError(errorLabel(ErrSessionActive))
		return nil, ErrSessionActive
	}

	input, err := r.device.Open(ctx)
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		r.metrics.RecordCaptureError(errorLabel(err))
		r.logger.Warn("Failed to open capture device", slog.String("error", err.Error()))
		return nil, err
	}

	format := input.Format()
	if err := format.Validate(); err != nil {
		input.Close()
		return nil, fmt.Errorf("%w: unsupported input format: %v", ErrDeviceUnavailable, err)
	}

	s := newSession(r, input)
	r.active = s
	r.metrics.RecordCaptureStarted()

	r.logger.Info("Capture session started",
		slog.String("session_id", s.id),
		slog.Int("sample_rate", format.SampleRate),
		slog.Int("channels", format.Channels),
		slog.Int("bit_depth", format.BitDepth),
	)

	return s, nil
}

// Active returns the recording session, or nil when idle
func (r *Recorder) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil || r.active.State() != StateRecording {
		return nil
	}
	return r.active
}

// State returns StateRecording while a session is active, StateIdle otherwise
func (r *Recorder) State() State {
	if r.Active() != nil {
		return StateRecording
	}
	return StateIdle
}

// release forgets s once it is no longer recording
func (r *Recorder) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == s {
		r.active = nil
	}
}

// Session is one microphone recording
type Session struct {
	id       string
	recorder *Recorder
	stream   *audio.Stream
	sub      *audio.Subscription
	buffer   *audio.ChunkBuffer

	state     State
	startedAt time.Time
	stoppedAt time.Time
	halted    bool

	halt      chan struct{}
	haltOnce  sync.Once
	collected chan struct{}
	timer     *time.Timer

	mu sync.RWMutex
}

// SessionInfo represents session information for monitoring
type SessionInfo struct {
	ID        string          `json:"id"`
	State     State           `json:"state"`
	StartedAt time.Time       `json:"started_at"`
	Duration  float64         `json:"duration_seconds"`
	Chunks    uint64          `json:"chunks"`
	Bytes     int             `json:"bytes"`
	Halted    bool            `json:"halted"`
	Format    audio.PCMFormat `json:"format"`
}

func newSession(r *Recorder, input audio.Input) *Session {
	stream := audio.NewStream(input, r.logger)

	s := &Session{
		id:        uuid.NewString(),
		recorder:  r,
		stream:    stream,
		sub:       stream.Subscribe(r.config.BufferChunks, false),
		buffer:    audio.NewChunkBuffer(stream.Format()),
		state:     StateRecording,
		startedAt: time.Now(),
		halt:      make(chan struct{}),
		collected: make(chan struct{}),
	}

	if r.config.MaxDuration > 0 {
		s.timer = time.AfterFunc(r.config.MaxDuration, func() {
			r.logger.Info("Capture reached maximum duration",
				slog.String("session_id", s.id),
				slog.Duration("max_duration", r.config.MaxDuration),
			)
			s.haltBuffering()
		})
	}

	go s.collect()

	return s
}

// collect moves chunks from the stream into the buffer until halted
func (s *Session) collect() {
	defer close(s.collected)

	ch := s.sub.C()
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			s.add(chunk)

		case <-s.halt:
			// Keep what was delivered before the halt
			for {
				select {
				case chunk, ok := <-ch:
					if !ok {
						return
					}
					s.add(chunk)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) add(chunk audio.Chunk) {
	if err := s.buffer.Add(chunk.Seq, chunk.Data); err != nil {
		s.recorder.logger.Debug("Dropped capture chunk",
			slog.String("session_id", s.id),
			slog.Uint64("seq", chunk.Seq),
			slog.String("error", err.Error()),
		)
		return
	}
	s.recorder.metrics.RecordCaptureChunk()
}

// haltBuffering stops accepting new chunks
func (s *Session) haltBuffering() {
	s.haltOnce.Do(func() {
		s.sub.Cancel()

		s.mu.Lock()
		s.halted = true
		s.mu.Unlock()

		close(s.halt)
	})
}

// finish ends buffering and releases the device. It reports false if the
// session was not recording.
func (s *Session) finish() bool {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return false
	}
	s.state = StateStopped
	s.stoppedAt = time.Now()
	s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}

	// Closing the stream first delivers every chunk already read from the device
	if err := s.stream.Close(); err != nil {
		s.recorder.logger.Warn("Failed to close capture device",
			slog.String("session_id", s.id),
			slog.String("error", err.Error()),
		)
	}
	s.haltBuffering()
	<-s.collected

	s.buffer.Flush()
	s.recorder.release(s)
	s.recorder.metrics.RecordCaptureStopped(s.buffer.GetStats().Duration)

	return true
}

// Stop ends the recording and converts it. The raw audio is wrapped in a
// WAV container named with the session's random ID; a recording without
// any chunks is passed on as an empty blob, which the converter rejects.
// Stop hands off at most once; later calls return ErrNotRecording.
func (s *Session) Stop(ctx context.Context) (audio.CanonicalAudio, error) {
	if !s.finish() {
		return audio.CanonicalAudio{}, ErrNotRecording
	}

	blob, err := s.blob()
	if err != nil {
		s.setState(StateConsumed)
		return audio.CanonicalAudio{}, err
	}

	s.recorder.logger.Info("Capture session stopped",
		slog.String("session_id", s.id),
		slog.Int("bytes", blob.Len()),
		slog.Uint64("chunks", s.buffer.Chunks()),
	)

	out, err := s.recorder.converter.Convert(ctx, blob)
	s.setState(StateConsumed)

	return out, err
}

// Cancel ends the recording and discards the audio
func (s *Session) Cancel() error {
	if !s.finish() {
		return ErrNotRecording
	}

	s.recorder.logger.Info("Capture session cancelled", slog.String("session_id", s.id))
	return nil
}

// blob frames the buffered chunks as a WAV file
func (s *Session) blob() (audio.MediaBlob, error) {
	data := s.buffer.Bytes()
	if len(data) == 0 {
		return audio.NewMediaBlob(s.id, audio.WAVContentType, nil), nil
	}

	framed, err := audio.FramePCM(data, s.buffer.Format())
	if err != nil {
		return audio.MediaBlob{}, fmt.Errorf("frame recording: %w", err)
	}

	return audio.NewMediaBlob(s.id, audio.WAVContentType, framed), nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// ID returns the random identifier that also names the recording
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stream returns the live input so other consumers, such as a volume
// monitor, can subscribe alongside the recording
func (s *Session) Stream() *audio.Stream {
	return s.stream
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.buffer.GetStats()
	return SessionInfo{
		ID:        s.id,
		State:     s.state,
		StartedAt: s.startedAt,
		Duration:  stats.Duration,
		Chunks:    stats.TotalChunks - stats.Duplicates,
		Bytes:     stats.BufferBytes,
		Halted:    s.halted,
		Format:    s.buffer.Format(),
	}
}
