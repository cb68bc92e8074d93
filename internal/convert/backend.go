package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Samples is decoded audio as interleaved values normalized to [-1, 1]
type Samples struct {
	SampleRate int
	Channels   int
	Data       []float64
}

// Frames returns the number of interleaved frames
func (s *Samples) Frames() int {
	if s == nil || s.Channels == 0 {
		return 0
	}
	return len(s.Data) / s.Channels
}

// Backend creates decoders. Implementations must return a new, independent
// Decoder from every NewDecoder call.
type Backend interface {
	Name() string
	NewDecoder() (Decoder, error)
}

// Decoder turns media bytes into samples for a single conversion
type Decoder interface {
	// Decode returns the first audio track of data
	Decode(ctx context.Context, data []byte) (*Samples, error)
	// Resample converts s to the given sample rate
	Resample(s *Samples, rate int) (*Samples, error)
	// Close releases any resources held by the decoder
	Close() error
}

// Backend names accepted by NewBackend
const (
	BackendAuto   = "auto"
	BackendNative = "native"
	BackendFFmpeg = "ffmpeg"
)

// BackendConfig selects and configures a backend
type BackendConfig struct {
	Name       string        // auto, native or ffmpeg
	FFmpegPath string        // ffmpeg executable, defaults to "ffmpeg"
	Timeout    time.Duration // per ffmpeg invocation
	TempDir    string        // parent of the per-conversion work directories
}

// NewBackend builds the backend named in cfg
func NewBackend(cfg BackendConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Name {
	case BackendNative:
		return NativeBackend{}, nil
	case BackendFFmpeg:
		return NewFFmpegBackend(cfg.FFmpegPath, cfg.Timeout, cfg.TempDir, logger), nil
	case BackendAuto, "":
		return NewChainBackend(NativeBackend{}, NewFFmpegBackend(cfg.FFmpegPath, cfg.Timeout, cfg.TempDir, logger)), nil
	default:
		return nil, fmt.Errorf("unknown converter backend %q", cfg.Name)
	}
}

// ChainBackend tries each backend in order until one decodes the input.
// A backend reporting ErrUnsupportedFormat passes the input to the next one;
// any other failure ends the chain.
type ChainBackend struct {
	backends []Backend
}

// NewChainBackend creates a chain over the given backends
func NewChainBackend(backends ...Backend) *ChainBackend {
	return &ChainBackend{backends: backends}
}

// Name returns the names of the chained backends
func (c *ChainBackend) Name() string {
	name := ""
	for i, b := range c.backends {
		if i > 0 {
			name += "+"
		}
		name += b.Name()
	}
	return name
}

// NewDecoder returns a decoder that creates backend decoders on demand
func (c *ChainBackend) NewDecoder() (Decoder, error) {
	if len(c.backends) == 0 {
		return nil, engineFailure("no backends configured")
	}
	return &chainDecoder{backends: c.backends}, nil
}

type chainDecoder struct {
	backends []Backend
	opened   []Decoder
	winner   Decoder
}

func (d *chainDecoder) Decode(ctx context.Context, data []byte) (*Samples, error) {
	var lastErr error

	for _, backend := range d.backends {
		dec, err := backend.NewDecoder()
		if err != nil {
			lastErr = err
			continue
		}
		d.opened = append(d.opened, dec)

		samples, err := dec.Decode(ctx, data)
		if err == nil {
			d.winner = dec
			return samples, nil
		}

		lastErr = err
		if !errors.Is(err, ErrUnsupportedFormat) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (d *chainDecoder) Resample(s *Samples, rate int) (*Samples, error) {
	if d.winner != nil {
		return d.winner.Resample(s, rate)
	}
	return LinearResample(s, rate)
}

func (d *chainDecoder) Close() error {
	var errs []error
	for _, dec := range d.opened {
		if err := dec.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
