package app

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/wavecore/internal/capture"
	"github.com/skypro1111/wavecore/internal/config"
	"github.com/skypro1111/wavecore/internal/convert"
	"github.com/skypro1111/wavecore/internal/metrics"
	"github.com/skypro1111/wavecore/internal/remote"
	"github.com/skypro1111/wavecore/internal/submit"
)

// Components holds the wired core of the agent
type Components struct {
	Metrics     *metrics.Metrics
	Converter   *convert.Converter
	Client      *remote.Client
	Coordinator *submit.Coordinator
	Recorder    *capture.Recorder // nil when capture is disabled
}

// New wires the converter, match service client, coordinator and, when
// device is non-nil and capture is enabled, the recorder. Metrics are
// registered with reg.
func New(cfg *config.Config, device capture.Device, logger *slog.Logger, reg prometheus.Registerer) (*Components, error) {
	m := metrics.NewMetrics(reg)

	backend, err := convert.NewBackend(convert.BackendConfig{
		Name:       cfg.Converter.Backend,
		FFmpegPath: cfg.Converter.FFmpegPath,
		Timeout:    cfg.Converter.GetTimeoutDuration(),
		TempDir:    cfg.Converter.TempDir,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversion backend: %w", err)
	}

	converter := convert.New(backend, convert.Config{
		MaxConcurrent: cfg.Converter.MaxConcurrent,
	}, logger, m)

	client, err := remote.NewClient(remote.Config{
		BaseURL:       cfg.Service.BaseURL,
		SavePath:      cfg.Service.SavePath,
		SearchPath:    cfg.Service.SearchPath,
		ListPath:      cfg.Service.ListPath,
		DownloadPath:  cfg.Service.DownloadPath,
		APIKey:        cfg.Service.APIKey,
		Timeout:       cfg.Service.GetTimeoutDuration(),
		MaxConcurrent: cfg.Service.MaxConcurrent,
	}, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create match service client: %w", err)
	}

	coordinator := submit.NewCoordinator(converter, client, logger, m)
	coordinator.SetMaxHistory(cfg.Submit.MaxHistory)

	c := &Components{
		Metrics:     m,
		Converter:   converter,
		Client:      client,
		Coordinator: coordinator,
	}

	if cfg.Capture.Enabled && device != nil {
		c.Recorder = capture.NewRecorder(device, converter, capture.Config{
			MaxDuration: cfg.Capture.GetMaxDuration(),
		}, logger, m)
	}

	logger.Info("Components initialized",
		slog.String("backend", backend.Name()),
		slog.String("service", cfg.Service.BaseURL),
		slog.Bool("capture", c.Recorder != nil),
	)

	return c, nil
}

// Close cancels any recording in progress and releases the client
func (c *Components) Close() error {
	if c.Recorder != nil {
		if s := c.Recorder.Active(); s != nil {
			s.Cancel()
		}
	}
	return c.Client.Close()
}
