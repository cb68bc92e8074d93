package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/wavecore/internal/app"
	"github.com/skypro1111/wavecore/internal/capture"
	"github.com/skypro1111/wavecore/internal/capture/portaudio"
	"github.com/skypro1111/wavecore/internal/config"
)

var (
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed, color.Bold)
	faint  = color.New(color.Faint)
)

const usage = `usage: wavectl [-config path] [-v] <command> [args]

commands:
  convert <input> [output]        convert a media file to canonical WAV
  save <file>...                  convert files and save them to the match service
  search <file>                   convert a file and search for matches
  list                            list files stored by the match service
  download <url> [output]         download media through the match service
  record [-seconds N] [-search|-save] [-out path]
                                  record from the microphone with a live level meter
`

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to configuration file (defaults and environment if empty)")
	verbose := flag.Bool("v", false, "Log at debug level")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		red.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// Keep the terminal for command output unless asked
	var logger *slog.Logger
	if *verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Output = "stderr"
		logger = app.NewLogger(cfg.Logging)
	} else {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
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

	components, err := app.New(cfg, device, logger, prometheus.NewRegistry())
	if err != nil {
		red.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{cfg: cfg, components: components, out: os.Stdout}

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "convert":
		err = c.convert(ctx, args)
	case "save":
		err = c.save(ctx, args)
	case "search":
		err = c.search(ctx, args)
	case "list":
		err = c.list(ctx, args)
	case "download":
		err = c.download(ctx, args)
	case "record":
		err = c.record(ctx, args)
	default:
		yellow.Fprintf(os.Stderr, "Unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		return 2
	}

	if err != nil {
		red.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}
