package convert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/wavecore/internal/audio"
	"github.com/skypro1111/wavecore/internal/metrics"
)

// Config contains converter configuration
type Config struct {
	MaxConcurrent int // 0 means unbounded
}

// Stats represents converter statistics
type Stats struct {
	Backend           string        `json:"backend"`
	TotalConversions  uint64        `json:"total_conversions"`
	Succeeded         uint64        `json:"succeeded"`
	Unsupported       uint64        `json:"unsupported_format"`
	EngineFailures    uint64        `json:"engine_failures"`
	ActiveConversions int           `json:"active_conversions"`
	AvgDuration       time.Duration `json:"avg_duration"`
}

// Converter turns media blobs into canonical audio. It is safe for
// concurrent use; every call decodes with its own Decoder.
type Converter struct {
	backend Backend
	logger  *slog.Logger
	metrics *metrics.Metrics
	sem     chan struct{}

	// Statistics
	total       uint64
	succeeded   uint64
	unsupported uint64
	engine      uint64
	active      int
	avgDuration time.Duration

	mu sync.Mutex
}

// New creates a converter over backend. logger and m may be nil.
func New(backend Backend, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Converter {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Converter{
		backend: backend,
		logger:  logger,
		metrics: m,
	}
	if cfg.MaxConcurrent > 0 {
		c.sem = make(chan struct{}, cfg.MaxConcurrent)
	}

	return c
}

// Convert decodes blob, averages its channels to mono, resamples it to
// 22050 Hz and encodes 16-bit PCM WAV. The output is named after the input
// with a .wav extension. Failures are *ConversionError values.
func (c *Converter) Convert(ctx context.Context, blob audio.MediaBlob) (audio.CanonicalAudio, error) {
	if c.sem != nil {
		select {
		case c.sem <- struct{}{}:
			defer func() { <-c.sem }()
		case <-ctx.Done():
			return audio.CanonicalAudio{}, &ConversionError{Kind: ErrEngineFailure, Name: blob.Name(), Err: ctx.Err()}
		}
	}

	startTime := time.Now()
	c.begin()
	c.metrics.RecordConversionStart(blob.Len())

	out, err := c.convert(ctx, blob)
	elapsed := time.Since(startTime)
	c.finish(elapsed, err)

	if err != nil {
		c.metrics.RecordConversionFailure(KindLabel(err), elapsed.Seconds())
		c.logger.Warn("Conversion failed",
			slog.String("name", blob.Name()),
			slog.Int("input_bytes", blob.Len()),
			slog.String("error", err.Error()),
		)
		return audio.CanonicalAudio{}, err
	}

	c.metrics.RecordConversionSuccess(elapsed.Seconds())
	c.logger.Debug("Conversion finished",
		slog.String("name", blob.Name()),
		slog.String("output", out.Name()),
		slog.Int("input_bytes", blob.Len()),
		slog.Int("output_bytes", out.Len()),
		slog.Duration("elapsed", elapsed),
	)

	return out, nil
}

func (c *Converter) convert(ctx context.Context, blob audio.MediaBlob) (audio.CanonicalAudio, error) {
	if blob.Len() == 0 {
		return audio.CanonicalAudio{}, &ConversionError{
			Kind: ErrUnsupportedFormat,
			Name: blob.Name(),
			Err:  errors.New("empty input"),
		}
	}

	dec, err := c.backend.NewDecoder()
	if err != nil {
		return audio.CanonicalAudio{}, classify(blob.Name(), err)
	}
	defer func() {
		if err := dec.Close(); err != nil {
			c.logger.Warn("Failed to release decoder", slog.String("error", err.Error()))
		}
	}()

	samples, err := dec.Decode(ctx, blob.View())
	if err != nil {
		return audio.CanonicalAudio{}, classify(blob.Name(), err)
	}

	mono := Downmix(samples)

	resampled, err := dec.Resample(mono, audio.CanonicalSampleRate)
	if err != nil {
		return audio.CanonicalAudio{}, classify(blob.Name(), err)
	}

	pcm := Quantize(resampled.Data)
	if len(pcm) == 0 {
		return audio.CanonicalAudio{}, classify(blob.Name(), unsupported("no audio samples"))
	}

	data, err := audio.EncodeCanonical(pcm)
	if err != nil {
		return audio.CanonicalAudio{}, classify(blob.Name(), engineFailure("encode: %v", err))
	}

	out, err := audio.NewCanonicalAudio(audio.WAVFileName(blob.Name()), data)
	if err != nil {
		return audio.CanonicalAudio{}, classify(blob.Name(), engineFailure("%v", err))
	}

	return out, nil
}

// Backend returns the decoding backend
func (c *Converter) Backend() Backend {
	return c.backend
}

func (c *Converter) begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	c.active++
}

func (c *Converter) finish(elapsed time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active--
	switch {
	case err == nil:
		c.succeeded++
	case errors.Is(err, ErrUnsupportedFormat):
		c.unsupported++
	default:
		c.engine++
	}

	// Simple moving average
	if c.avgDuration == 0 {
		c.avgDuration = elapsed
	} else {
		c.avgDuration = (c.avgDuration + elapsed) / 2
	}
}

// GetStats returns current converter statistics
func (c *Converter) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Backend:           c.backend.Name(),
		TotalConversions:  c.total,
		Succeeded:         c.succeeded,
		Unsupported:       c.unsupported,
		EngineFailures:    c.engine,
		ActiveConversions: c.active,
		AvgDuration:       c.avgDuration,
	}
}
