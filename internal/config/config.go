package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the configuration file
const (
	EnvServiceBaseURL = "WAVECORE_SERVICE_BASE_URL"
	EnvServiceAPIKey  = "WAVECORE_SERVICE_API_KEY"
	EnvHTTPAddress    = "WAVECORE_HTTP_ADDRESS"
	EnvHTTPPort       = "WAVECORE_HTTP_PORT"
	EnvLogLevel       = "WAVECORE_LOG_LEVEL"
	EnvFFmpegPath     = "WAVECORE_FFMPEG_PATH"
)

// Config represents the complete agent configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Service   ServiceConfig   `yaml:"service"`
	Converter ConverterConfig `yaml:"converter"`
	Capture   CaptureConfig   `yaml:"capture"`
	Volume    VolumeConfig    `yaml:"volume"`
	Submit    SubmitConfig    `yaml:"submit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port        int    `yaml:"port"`
	Address     string `yaml:"address"`
	Enabled     bool   `yaml:"enabled"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
	// Origins allowed to open WebSockets besides the agent's own host.
	// "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ServiceConfig contains match service client configuration
type ServiceConfig struct {
	BaseURL       string `yaml:"base_url"`
	SavePath      string `yaml:"save_path"`
	SearchPath    string `yaml:"search_path"`
	ListPath      string `yaml:"list_path"`
	DownloadPath  string `yaml:"download_path"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// ConverterConfig contains format converter configuration
type ConverterConfig struct {
	Backend       string `yaml:"backend"` // auto, native or ffmpeg
	FFmpegPath    string `yaml:"ffmpeg_path"`
	TempDir       string `yaml:"temp_dir"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// CaptureConfig contains microphone capture configuration
type CaptureConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Device          string `yaml:"device"` // empty selects the default input
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	MaxDuration     int    `yaml:"max_duration"` // seconds, 0 for no limit
}

// VolumeConfig contains volume monitor configuration
type VolumeConfig struct {
	IntervalMS int `yaml:"interval_ms"`
	WindowSize int `yaml:"window_size"` // samples
}

// SubmitConfig contains submission coordinator configuration
type SubmitConfig struct {
	MaxHistory int `yaml:"max_history"` // finished operations kept, 0 for no limit
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for any value the file omits
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:        8090,
			Address:     "127.0.0.1",
			Enabled:     true,
			MaxUploadMB: 200,
		},
		Service: ServiceConfig{
			BaseURL:       "http://localhost:8080",
			SavePath:      "/audio/save",
			SearchPath:    "/audio/search",
			ListPath:      "/audio/list",
			DownloadPath:  "/api/download/youtube",
			Timeout:       120,
			MaxConcurrent: 4,
		},
		Converter: ConverterConfig{
			Backend:       "auto",
			FFmpegPath:    "ffmpeg",
			Timeout:       120,
			MaxConcurrent: 4,
		},
		Capture: CaptureConfig{
			Enabled:         true,
			SampleRate:      44100,
			Channels:        1,
			FramesPerBuffer: 1024,
			MaxDuration:     60,
		},
		Volume: VolumeConfig{
			IntervalMS: 16,
			WindowSize: 2048,
		},
		Submit: SubmitConfig{
			MaxHistory: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults,
// then applies .env and environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := finish(config); err != nil {
		return nil, err
	}

	return config, nil
}

// FromEnv builds a configuration from the defaults and environment only
func FromEnv() (*Config, error) {
	config := Default()
	if err := finish(config); err != nil {
		return nil, err
	}
	return config, nil
}

func finish(config *Config) error {
	if err := loadDotEnv(".env"); err != nil {
		return err
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return fmt.Errorf("environment override: %w", err)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// loadDotEnv exports the variables in path unless they are already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides configuration values from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvServiceBaseURL); ok && v != "" {
		c.Service.BaseURL = v
	}
	if v, ok := lookup(EnvServiceAPIKey); ok {
		c.Service.APIKey = v
	}
	if v, ok := lookup(EnvHTTPAddress); ok && v != "" {
		c.HTTP.Address = v
	}
	if v, ok := lookup(EnvHTTPPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be a number, got '%s'", EnvHTTPPort, v)
		}
		c.HTTP.Port = port
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvFFmpegPath); ok && v != "" {
		c.Converter.FFmpegPath = v
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service config: %w", err)
	}

	if err := c.Converter.Validate(); err != nil {
		return fmt.Errorf("converter config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Volume.Validate(); err != nil {
		return fmt.Errorf("volume config: %w", err)
	}

	if err := c.Submit.Validate(); err != nil {
		return fmt.Errorf("submit config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", h.MaxUploadMB)
	}

	for _, origin := range h.AllowedOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
			return fmt.Errorf("allowed_origins entries must be '*' or scheme://host[:port], got '%s'", origin)
		}
	}

	return nil
}

// Validate validates match service configuration
func (s *ServiceConfig) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	u, err := url.Parse(s.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got '%s'", s.BaseURL)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}

	return nil
}

// Validate validates converter configuration
func (c *ConverterConfig) Validate() error {
	validBackends := map[string]bool{"auto": true, "native": true, "ffmpeg": true}
	if !validBackends[c.Backend] {
		return fmt.Errorf("backend must be one of [auto, native, ffmpeg], got '%s'", c.Backend)
	}

	if c.Backend != "native" && c.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty for backend '%s'", c.Backend)
	}

	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout)
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", c.SampleRate)
	}

	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}

	if c.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", c.FramesPerBuffer)
	}

	if c.MaxDuration < 0 {
		return fmt.Errorf("max_duration cannot be negative, got %d", c.MaxDuration)
	}

	return nil
}

// Validate validates volume monitor configuration
func (v *VolumeConfig) Validate() error {
	if v.IntervalMS < 1 {
		return fmt.Errorf("interval_ms must be at least 1, got %d", v.IntervalMS)
	}

	if v.WindowSize < 32 || v.WindowSize > 32768 {
		return fmt.Errorf("window_size must be between 32 and 32768 samples, got %d", v.WindowSize)
	}

	return nil
}

// Validate validates submission coordinator configuration
func (s *SubmitConfig) Validate() error {
	if s.MaxHistory < 0 {
		return fmt.Errorf("max_history cannot be negative, got %d", s.MaxHistory)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetMaxUploadBytes returns the upload limit in bytes
func (h *HTTPConfig) GetMaxUploadBytes() int64 {
	return int64(h.MaxUploadMB) << 20
}

// GetTimeoutDuration returns the service timeout as a time.Duration
func (s *ServiceConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetTimeoutDuration returns the ffmpeg timeout as a time.Duration
func (c *ConverterConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetMaxDuration returns the capture limit as a time.Duration
func (c *CaptureConfig) GetMaxDuration() time.Duration {
	return time.Duration(c.MaxDuration) * time.Second
}

// GetInterval returns the volume sampling interval as a time.Duration
func (v *VolumeConfig) GetInterval() time.Duration {
	return time.Duration(v.IntervalMS) * time.Millisecond
}
