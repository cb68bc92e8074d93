package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid http port",
			modify:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name: "http port ignored when disabled",
			modify: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
			expectError: false,
		},
		{
			name:        "relative base url",
			modify:      func(c *Config) { c.Service.BaseURL = "localhost:8080" },
			expectError: true,
			errorMsg:    "base_url must be an absolute http(s) URL",
		},
		{
			name:        "empty base url",
			modify:      func(c *Config) { c.Service.BaseURL = "" },
			expectError: true,
			errorMsg:    "base_url cannot be empty",
		},
		{
			name:        "unknown backend",
			modify:      func(c *Config) { c.Converter.Backend = "sox" },
			expectError: true,
			errorMsg:    "backend must be one of",
		},
		{
			name: "native backend without ffmpeg",
			modify: func(c *Config) {
				c.Converter.Backend = "native"
				c.Converter.FFmpegPath = ""
			},
			expectError: false,
		},
		{
			name:        "ffmpeg backend without path",
			modify:      func(c *Config) { c.Converter.FFmpegPath = "" },
			expectError: true,
			errorMsg:    "ffmpeg_path cannot be empty",
		},
		{
			name:        "invalid capture channels",
			modify:      func(c *Config) { c.Capture.Channels = 6 },
			expectError: true,
			errorMsg:    "channels must be 1 or 2",
		},
		{
			name: "capture ignored when disabled",
			modify: func(c *Config) {
				c.Capture.Enabled = false
				c.Capture.SampleRate = 0
			},
			expectError: false,
		},
		{
			name:        "volume window too small",
			modify:      func(c *Config) { c.Volume.WindowSize = 4 },
			expectError: true,
			errorMsg:    "window_size must be between",
		},
		{
			name:        "invalid log level",
			modify:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name:        "negative max history",
			modify:      func(c *Config) { c.Submit.MaxHistory = -1 },
			expectError: true,
			errorMsg:    "max_history cannot be negative",
		},
		{
			name:        "unbounded history",
			modify:      func(c *Config) { c.Submit.MaxHistory = 0 },
			expectError: false,
		},
		{
			name: "allowed origins",
			modify: func(c *Config) {
				c.HTTP.AllowedOrigins = []string{"http://localhost:3000", "https://app.example.com", "*"}
			},
			expectError: false,
		},
		{
			name:        "allowed origin without scheme",
			modify:      func(c *Config) { c.HTTP.AllowedOrigins = []string{"localhost:3000"} },
			expectError: true,
			errorMsg:    "allowed_origins entries",
		},
		{
			name:        "allowed origin with path",
			modify:      func(c *Config) { c.HTTP.AllowedOrigins = []string{"http://localhost:3000/app"} },
			expectError: true,
			errorMsg:    "allowed_origins entries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	// Create a temporary directory for test files
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
http:
  enabled: true
  address: "0.0.0.0"
  port: 9000
  max_upload_mb: 50
service:
  base_url: "https://match.example.com"
  api_key: "test-key"
  timeout: 30
  max_concurrent: 2
converter:
  backend: "native"
  timeout: 30
  max_concurrent: 8
capture:
  enabled: false
volume:
  interval_ms: 33
  window_size: 1024
logging:
  level: "debug"
  format: "json"
  output: "stderr"
`,
			expectError: false,
		},
		{
			name: "partial file keeps defaults",
			configYAML: `
service:
  base_url: "http://10.0.0.5:8080"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid values",
			configYAML: `
converter:
  backend: "gstreamer"
`,
			expectError: true,
			errorMsg:    "backend must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create temporary config file
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadValues(t *testing.T) {
	for _, key := range []string{EnvServiceBaseURL, EnvServiceAPIKey, EnvHTTPAddress, EnvHTTPPort, EnvLogLevel, EnvFFmpegPath} {
		t.Setenv(key, "")
	}

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
service:
  base_url: "https://match.example.com"
  search_path: "/v2/search"
converter:
  backend: "ffmpeg"
  ffmpeg_path: "/opt/ffmpeg/bin/ffmpeg"
http:
  allowed_origins: ["http://localhost:3000"]
submit:
  max_history: 25
`
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Service.BaseURL != "https://match.example.com" {
		t.Errorf("Expected base_url from file, got %s", config.Service.BaseURL)
	}
	if config.Service.SearchPath != "/v2/search" {
		t.Errorf("Expected search_path from file, got %s", config.Service.SearchPath)
	}
	if config.Service.SavePath != "/audio/save" {
		t.Errorf("Expected default save_path, got %s", config.Service.SavePath)
	}
	if config.Converter.FFmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("Expected ffmpeg_path from file, got %s", config.Converter.FFmpegPath)
	}
	if config.Volume.WindowSize != 2048 {
		t.Errorf("Expected default window_size 2048, got %d", config.Volume.WindowSize)
	}
	if config.Submit.MaxHistory != 25 {
		t.Errorf("Expected max_history 25 from file, got %d", config.Submit.MaxHistory)
	}
	if len(config.HTTP.AllowedOrigins) != 1 || config.HTTP.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("Expected allowed_origins from file, got %v", config.HTTP.AllowedOrigins)
	}
	if config.HTTP.Port != 8090 {
		t.Errorf("Expected default http port 8090, got %d", config.HTTP.Port)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvServiceBaseURL: "https://override.example.com",
		EnvServiceAPIKey:  "from-env",
		EnvHTTPPort:       "9999",
		EnvLogLevel:       "debug",
		EnvFFmpegPath:     "/usr/local/bin/ffmpeg",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	config := Default()
	if err := config.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if config.Service.BaseURL != "https://override.example.com" {
		t.Errorf("Expected overridden base_url, got %s", config.Service.BaseURL)
	}
	if config.Service.APIKey != "from-env" {
		t.Errorf("Expected overridden api_key, got %s", config.Service.APIKey)
	}
	if config.HTTP.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", config.HTTP.Port)
	}
	if config.HTTP.Address != "127.0.0.1" {
		t.Errorf("Expected address untouched, got %s", config.HTTP.Address)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Expected level debug, got %s", config.Logging.Level)
	}
	if config.Converter.FFmpegPath != "/usr/local/bin/ffmpeg" {
		t.Errorf("Expected overridden ffmpeg_path, got %s", config.Converter.FFmpegPath)
	}

	env[EnvHTTPPort] = "not-a-port"
	if err := config.ApplyEnv(lookup); err == nil {
		t.Error("Expected error for non-numeric port")
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv(EnvServiceAPIKey, "")
	os.Unsetenv(EnvServiceAPIKey)

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(EnvServiceAPIKey+"=dotenv-key\n"), 0644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv failed: %v", err)
	}
	if got := os.Getenv(EnvServiceAPIKey); got != "dotenv-key" {
		t.Errorf("Expected dotenv-key, got %q", got)
	}

	if err := loadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Expected missing .env to be ignored, got %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	service := ServiceConfig{Timeout: 30}
	if service.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", service.GetTimeoutDuration())
	}

	converter := ConverterConfig{Timeout: 90}
	if converter.GetTimeoutDuration() != 90*time.Second {
		t.Errorf("Expected 90 seconds, got %v", converter.GetTimeoutDuration())
	}

	capture := CaptureConfig{MaxDuration: 45}
	if capture.GetMaxDuration() != 45*time.Second {
		t.Errorf("Expected 45 seconds, got %v", capture.GetMaxDuration())
	}

	volume := VolumeConfig{IntervalMS: 16}
	if volume.GetInterval() != 16*time.Millisecond {
		t.Errorf("Expected 16ms, got %v", volume.GetInterval())
	}

	http := HTTPConfig{MaxUploadMB: 2}
	if http.GetMaxUploadBytes() != 2*1024*1024 {
		t.Errorf("Expected 2MiB, got %d", http.GetMaxUploadBytes())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name: "valid json to stdout",
			config: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			valid: true,
		},
		{
			name: "valid text to file",
			config: LoggingConfig{
				Level:  "debug",
				Format: "text",
				Output: "/var/log/wavecore.log",
			},
			valid: true,
		},
		{
			name: "invalid log level",
			config: LoggingConfig{
				Level:  "trace",
				Format: "json",
				Output: "stdout",
			},
			valid: false,
		},
		{
			name: "invalid format",
			config: LoggingConfig{
				Level:  "info",
				Format: "xml",
				Output: "stdout",
			},
			valid: false,
		},
		{
			name: "empty output",
			config: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
