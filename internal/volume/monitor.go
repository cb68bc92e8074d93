// Package volume computes a live loudness level from a capture stream.
package volume

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/skypro1111/wavecore/internal/audio"
	"github.com/skypro1111/wavecore/internal/metrics"
)

const (
	DefaultInterval   = time.Second / 60
	DefaultWindowSize = 2048

	// silence is the centre value of an unsigned 8-bit sample
	silence = 128

	subscriptionSize = 16
)

// Source is a live stream a monitor can read alongside other consumers
type Source interface {
	Format() audio.PCMFormat
	Subscribe(size int, lossy bool) *audio.Subscription
}

// Option configures a monitor
type Option func(*options)

type options struct {
	interval   time.Duration
	windowSize int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// WithInterval sets how often the sink is called
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithWindowSize sets the number of samples the level is computed over
func WithWindowSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.windowSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Level returns the RMS loudness of unsigned 8-bit samples, normalized so
// that full-scale square waves read 1 and silence reads 0.
func Level(window []byte) float64 {
	if len(window) == 0 {
		return 0
	}

	var sum float64
	for _, v := range window {
		d := float64(v) - silence
		sum += d * d
	}

	rms := math.Sqrt(sum / float64(len(window)))
	return math.Min(rms/silence, 1)
}

// toByte maps a normalized sample onto the unsigned 8-bit scale
func toByte(v float64) byte {
	b := math.Floor(silence * (v + 1))
	if b < 0 {
		return 0
	}
	if b > 255 {
		return 255
	}
	return byte(b)
}

type monitor struct {
	sub    *audio.Subscription
	format audio.PCMFormat
	sink   func(float64)
	opts   options

	window []byte
	pos    int

	stop   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// Attach starts calling sink with the current level of src at a fixed
// cadence, beginning immediately. The returned detach function stops the
// monitor and returns once no further call to sink can happen. It is safe
// to call more than once, but must not be called from inside sink.
func Attach(src Source, sink func(float64), opts ...Option) (detach func()) {
	o := options{
		interval:   DefaultInterval,
		windowSize: DefaultWindowSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &monitor{
		sub:    src.Subscribe(subscriptionSize, true),
		format: src.Format(),
		sink:   sink,
		opts:   o,
		window: make([]byte, o.windowSize),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	m.reset()

	o.metrics.RecordVolumeAttached()
	o.logger.Debug("Volume monitor attached",
		slog.Duration("interval", o.interval),
		slog.Int("window_size", o.windowSize),
	)

	go m.run()

	return m.detach
}

func (m *monitor) run() {
	defer close(m.exited)

	ticker := time.NewTicker(m.opts.interval)
	defer ticker.Stop()

	m.emit()

	chunks := m.sub.C()
	for {
		select {
		case <-m.stop:
			return

		case chunk, ok := <-chunks:
			if !ok {
				// Source ended, decay to silence
				chunks = nil
				m.reset()
				continue
			}
			m.push(chunk.Data)

		case <-ticker.C:
			m.emit()
		}
	}
}

func (m *monitor) emit() {
	// Detach may have raced the ticker
	select {
	case <-m.stop:
		return
	default:
	}

	m.sink(Level(m.window))
	m.opts.metrics.RecordVolumeSample()
}

// push appends the chunk's frames to the ring window
func (m *monitor) push(data []byte) {
	for _, v := range m.format.MonoFrames(data) {
		m.window[m.pos] = toByte(v)
		m.pos = (m.pos + 1) % len(m.window)
	}
}

func (m *monitor) reset() {
	for i := range m.window {
		m.window[i] = silence
	}
	m.pos = 0
}

func (m *monitor) detach() {
	m.once.Do(func() {
		close(m.stop)
		<-m.exited
		m.sub.Cancel()

		m.opts.metrics.RecordVolumeDetached()
		m.opts.logger.Debug("Volume monitor detached")
	})
}
