package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/wavecore/internal/app"
	"github.com/skypro1111/wavecore/internal/capture"
	"github.com/skypro1111/wavecore/internal/capture/portaudio"
	"github.com/skypro1111/wavecore/internal/config"
	"github.com/skypro1111/wavecore/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "wavecore"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := app.NewLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("service_url", cfg.Service.BaseURL),
		slog.Bool("api_key_set", cfg.Service.APIKey != ""),
		slog.String("converter_backend", cfg.Converter.Backend),
		slog.Bool("capture_enabled", cfg.Capture.Enabled),
		slog.String("capture_device", cfg.Capture.Device),
		slog.Int("capture_sample_rate", cfg.Capture.SampleRate),
		slog.String("log_level", cfg.Logging.Level),
	)

	if !cfg.HTTP.Enabled {
		logger.Error("HTTP API is disabled, nothing to serve")
		os.Exit(1)
	}

	var device capture.Device
	if cfg.Capture.Enabled {
		device = &portaudio.Device{
			Name:            cfg.Capture.Device,
			SampleRate:      cfg.Capture.SampleRate,
			Channels:        cfg.Capture.Channels,
			FramesPerBuffer: cfg.Capture.FramesPerBuffer,
			Logger:          logger,
		}
	}

	// Core components share the default Prometheus registry
	components, err := app.New(cfg, device, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("Failed to initialize components", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := server.NewHTTPServer(cfg, server.Deps{
		Converter:   components.Converter,
		Coordinator: components.Coordinator,
		Library:     components.Client,
		Recorder:    components.Recorder,
		Metrics:     components.Metrics,
	}, logger)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	if err := components.Close(); err != nil {
		logger.Error("Error closing components", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := components.Converter.GetStats()
	clientStats := components.Client.GetStats()
	logger.Info("Final statistics",
		slog.Uint64("conversions", stats.TotalConversions),
		slog.Uint64("conversions_failed", stats.Unsupported+stats.EngineFailures),
		slog.Uint64("remote_requests", clientStats.TotalRequests),
	)

	logger.Info("Service stopped")
}
