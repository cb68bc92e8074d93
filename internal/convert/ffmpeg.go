package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FFmpeg invocation constants
const (
	FFmpegCommand      = "ffmpeg"
	DefaultFFmpegLimit = 2 * time.Minute
	workDirPattern     = "wavecore-*"
	inputPrefix        = "input-"
	outputPrefix       = "output-"
	outputExtension    = ".wav"
)

// stderr fragments ffmpeg prints when the input has no usable audio
var unsupportedMarkers = []string{
	"Invalid data found when processing input",
	"does not contain any stream",
	"matches no streams",
	"could not find codec parameters",
	"Output file is empty",
}

// FFmpegBackend decodes any container ffmpeg understands by transcoding the
// first audio stream to 16-bit PCM WAV and reading that natively.
type FFmpegBackend struct {
	path    string
	timeout time.Duration
	tempDir string
	logger  *slog.Logger
}

// NewFFmpegBackend creates a backend running the ffmpeg executable at path
func NewFFmpegBackend(path string, timeout time.Duration, tempDir string, logger *slog.Logger) *FFmpegBackend {
	if path == "" {
		path = FFmpegCommand
	}
	if timeout <= 0 {
		timeout = DefaultFFmpegLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FFmpegBackend{
		path:    path,
		timeout: timeout,
		tempDir: tempDir,
		logger:  logger,
	}
}

// Name returns "ffmpeg"
func (b *FFmpegBackend) Name() string { return BackendFFmpeg }

// NewDecoder creates a decoder with its own work directory
func (b *FFmpegBackend) NewDecoder() (Decoder, error) {
	dir, err := os.MkdirTemp(b.tempDir, workDirPattern)
	if err != nil {
		return nil, engineFailure("create work directory: %v", err)
	}

	return &ffmpegDecoder{backend: b, dir: dir, id: uuid.NewString()}, nil
}

type ffmpegDecoder struct {
	backend *FFmpegBackend
	dir     string
	id      string
	native  nativeDecoder
}

func (d *ffmpegDecoder) Decode(ctx context.Context, data []byte) (*Samples, error) {
	if len(data) == 0 {
		return nil, unsupported("empty input")
	}

	input := filepath.Join(d.dir, inputPrefix+d.id)
	output := filepath.Join(d.dir, outputPrefix+d.id+outputExtension)

	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, engineFailure("write input: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.backend.timeout)
	defer cancel()

	// -vn and -map 0:a:0 keep only the first audio stream
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-i", input,
		"-vn", "-map", "0:a:0",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"-y", output,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.backend.path, args...)
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())

		switch {
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
			return nil, engineFailure("ffmpeg not available at %q: %v", d.backend.path, err)
		case ctx.Err() != nil:
			return nil, engineFailure("ffmpeg interrupted: %v", ctx.Err())
		case isUnsupportedOutput(msg):
			return nil, unsupported("ffmpeg: %s", lastLine(msg))
		default:
			return nil, engineFailure("ffmpeg failed: %v: %s", err, lastLine(msg))
		}
	}

	d.backend.logger.Debug("ffmpeg decode finished",
		slog.String("work_dir", d.dir),
		slog.Int("input_bytes", len(data)),
		slog.Duration("elapsed", time.Since(start)),
	)

	pcm, err := os.ReadFile(output)
	if err != nil {
		return nil, engineFailure("read ffmpeg output: %v", err)
	}

	samples, err := d.native.Decode(ctx, pcm)
	if err != nil {
		var convErr *ConversionError
		if errors.As(err, &convErr) && errors.Is(err, ErrUnsupportedFormat) {
			return nil, unsupported("ffmpeg produced no audio: %v", convErr.Err)
		}
		return nil, err
	}

	return samples, nil
}

func (d *ffmpegDecoder) Resample(s *Samples, rate int) (*Samples, error) {
	return LinearResample(s, rate)
}

// Close removes the work directory
func (d *ffmpegDecoder) Close() error {
	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("remove work directory %s: %w", d.dir, err)
	}
	return nil
}

func isUnsupportedOutput(stderr string) bool {
	for _, marker := range unsupportedMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
