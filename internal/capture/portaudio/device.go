// Package portaudio provides the microphone implementation of
// capture.Device on top of the PortAudio library.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/wavecore/internal/audio"
	"github.com/skypro1111/wavecore/internal/capture"
)

const (
	DefaultSampleRate      = 44100
	DefaultChannels        = 1
	DefaultFramesPerBuffer = 1024
)

// Device opens a PortAudio input stream. An empty Name selects the
// system default input.
type Device struct {
	Name            string
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	Logger          *slog.Logger
}

// Open initializes PortAudio and starts a blocking input stream
func (d *Device) Open(ctx context.Context) (audio.Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sampleRate := d.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	channels := d.Channels
	if channels <= 0 {
		channels = DefaultChannels
	}
	framesPerBuffer := d.FramesPerBuffer
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, classify(err)
	}

	info, err := d.lookup()
	if err != nil {
		portaudio.Terminate()
		return nil, classify(err)
	}
	if info.MaxInputChannels < channels {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %s has %d input channels, need %d",
			capture.ErrDeviceUnavailable, info.Name, info.MaxInputChannels, channels)
	}

	buf := make([]int16, framesPerBuffer*channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, classify(err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, classify(err)
	}

	logger.Info("Opened capture device",
		slog.String("device", info.Name),
		slog.Int("sample_rate", sampleRate),
		slog.Int("channels", channels),
		slog.Int("frames_per_buffer", framesPerBuffer),
	)

	return &input{
		stream: stream,
		buf:    buf,
		out:    make([]byte, len(buf)*2),
		format: audio.PCMFormat{SampleRate: sampleRate, Channels: channels, BitDepth: 16},
		logger: logger,
	}, nil
}

func (d *Device) lookup() (*portaudio.DeviceInfo, error) {
	if d.Name == "" {
		return portaudio.DefaultInputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, info := range devices {
		if info.Name == d.Name && info.MaxInputChannels > 0 {
			return info, nil
		}
	}

	return nil, fmt.Errorf("%w: no input device named %q", capture.ErrDeviceUnavailable, d.Name)
}

// input is an open PortAudio stream
type input struct {
	stream *portaudio.Stream
	buf    []int16
	out    []byte
	format audio.PCMFormat
	logger *slog.Logger

	readMu    sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
	stateMu   sync.Mutex
}

func (in *input) Format() audio.PCMFormat {
	return in.format
}

// Read blocks until one buffer of frames has been captured. The returned
// slice is reused by the next Read.
func (in *input) Read() ([]byte, error) {
	in.readMu.Lock()
	defer in.readMu.Unlock()

	if in.isClosed() {
		return nil, io.EOF
	}

	if err := in.stream.Read(); err != nil {
		// Overflow only means samples were lost before this buffer
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, classify(err)
		}
		in.logger.Debug("Capture input overflowed")
	}

	for i, v := range in.buf {
		binary.LittleEndian.PutUint16(in.out[i*2:], uint16(v))
	}

	return in.out, nil
}

func (in *input) isClosed() bool {
	in.stateMu.Lock()
	defer in.stateMu.Unlock()
	return in.closed
}

// Close waits for an in-flight Read, then stops the stream
func (in *input) Close() error {
	in.closeOnce.Do(func() {
		in.stateMu.Lock()
		in.closed = true
		in.stateMu.Unlock()

		in.readMu.Lock()
		defer in.readMu.Unlock()

		var errs []error
		if err := in.stream.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := in.stream.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, err)
		}
		in.closeErr = errors.Join(errs...)
	})

	return in.closeErr
}

// classify maps PortAudio errors onto the capture device errors
func classify(err error) error {
	if errors.Is(err, capture.ErrDeviceUnavailable) || errors.Is(err, capture.ErrPermissionDenied) {
		return err
	}
	if errors.Is(err, os.ErrPermission) || isPermissionText(err.Error()) {
		return fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
}

func isPermissionText(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"permission", "not permitted", "access denied", "not authorized"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
