package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/skypro1111/wavecore/internal/app"
	"github.com/skypro1111/wavecore/internal/audio"
	"github.com/skypro1111/wavecore/internal/config"
	"github.com/skypro1111/wavecore/internal/submit"
	"github.com/skypro1111/wavecore/internal/volume"
)

const meterWidth = 40

type cli struct {
	cfg        *config.Config
	components *app.Components
	out        io.Writer
}

func readBlob(path string) (audio.MediaBlob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return audio.MediaBlob{}, err
	}
	return audio.NewMediaBlob(filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), data), nil
}

// writeWAV writes wav to output, or to its own name in the working directory
func (c *cli) writeWAV(wav audio.CanonicalAudio, output string) error {
	if output == "" {
		output = wav.Name()
	}
	if err := os.WriteFile(output, wav.View(), 0644); err != nil {
		return err
	}

	green.Fprintf(c.out, "Wrote %s ", output)
	faint.Fprintf(c.out, "(%.2fs, %d bytes)\n", wav.Duration(), wav.Len())
	return nil
}

func (c *cli) convert(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: convert <input> [output]")
	}

	blob, err := readBlob(args[0])
	if err != nil {
		return err
	}

	output := ""
	if len(args) == 2 {
		output = args[1]
	} else if sameFile(args[0], audio.WAVFileName(args[0])) {
		return fmt.Errorf("output would overwrite %s, name an output file", args[0])
	}

	wav, err := c.components.Converter.Convert(ctx, blob)
	if err != nil {
		return err
	}

	return c.writeWAV(wav, output)
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

func (c *cli) save(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: save <file>...")
	}

	blobs := make([]audio.MediaBlob, 0, len(args))
	for _, path := range args {
		blob, err := readBlob(path)
		if err != nil {
			return err
		}
		blobs = append(blobs, blob)
	}

	ops := c.components.Coordinator.SubmitForSave(ctx, blobs)
	return c.reportSaves(ops)
}

func (c *cli) reportSaves(ops []*submit.Operation) error {
	failed := 0
	for _, op := range ops {
		if err := op.Err(); err != nil {
			failed++
			red.Fprintf(c.out, "\t- %s: %v\n", op.Subject, err)
			continue
		}
		green.Fprintf(c.out, "\t- %s: saved\n", op.Subject)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(ops))
	}
	return nil
}

func (c *cli) search(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: search <file>")
	}

	blob, err := readBlob(args[0])
	if err != nil {
		return err
	}

	op, matches, err := c.components.Coordinator.SubmitForSearch(ctx, blob)
	if err != nil {
		return err
	}

	c.printMatches(matches, op.Info().Duration)
	return nil
}

func (c *cli) printMatches(matches []string, took float64) {
	if len(matches) == 0 {
		yellow.Fprintln(c.out, "\nNo match found.")
	} else {
		fmt.Fprintln(c.out, "Matches:")
		for _, name := range matches {
			fmt.Fprintf(c.out, "\t- %s\n", name)
		}
	}
	faint.Fprintf(c.out, "\nSearch took: %s\n", time.Duration(took*float64(time.Second)).Round(time.Millisecond))
}

func (c *cli) list(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return errors.New("usage: list")
	}

	names, err := c.components.Client.List(ctx)
	if err != nil {
		return err
	}

	if len(names) == 0 {
		yellow.Fprintln(c.out, "No files stored.")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(c.out, name)
	}
	return nil
}

func (c *cli) download(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: download <url> [output]")
	}

	_, wav, err := c.components.Coordinator.Download(ctx, args[0])
	if err != nil {
		return err
	}

	output := ""
	if len(args) == 2 {
		output = args[1]
	}
	return c.writeWAV(wav, output)
}

func (c *cli) record(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("record", flag.ContinueOnError)
	seconds := flags.Float64("seconds", 0, "Stop after this many seconds (0 waits for Enter)")
	doSearch := flags.Bool("search", false, "Search the recording")
	doSave := flags.Bool("save", false, "Save the recording")
	output := flags.String("out", "", "Write the recording to this file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *doSearch && *doSave {
		return errors.New("record: -search and -save are exclusive")
	}

	recorder := c.components.Recorder
	if recorder == nil {
		return errors.New("capture is disabled in the configuration")
	}

	session, err := recorder.Start(ctx)
	if err != nil {
		return err
	}

	faint.Fprintln(c.out, "Recording, press Enter to stop")

	detach := volume.Attach(session.Stream(), func(level float64) {
		fmt.Fprintf(c.out, "\r%s %3.0f%%", volume.Meter(level, meterWidth), level*100)
	},
		volume.WithInterval(c.cfg.Volume.GetInterval()),
		volume.WithWindowSize(c.cfg.Volume.WindowSize),
	)

	var timeout <-chan time.Time
	if *seconds > 0 {
		timer := time.NewTimer(time.Duration(*seconds * float64(time.Second)))
		defer timer.Stop()
		timeout = timer.C
	}

	// A closed stdin never stops the recording
	enter := make(chan struct{})
	go func() {
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err == nil {
			close(enter)
		}
	}()

	select {
	case <-ctx.Done():
		detach()
		fmt.Fprintln(c.out)
		session.Cancel()
		yellow.Fprintln(c.out, "Recording discarded")
		return ctx.Err()
	case <-enter:
	case <-timeout:
	}

	detach()
	fmt.Fprintln(c.out)

	wav, err := session.Stop(ctx)
	if err != nil {
		return err
	}

	if *output != "" || (!*doSearch && !*doSave) {
		if err := c.writeWAV(wav, *output); err != nil {
			return err
		}
	}

	switch {
	case *doSearch:
		op, matches, err := c.components.Coordinator.SubmitForSearch(ctx, wav.Blob())
		if err != nil {
			return err
		}
		c.printMatches(matches, op.Info().Duration)
	case *doSave:
		return c.reportSaves(c.components.Coordinator.SubmitForSave(ctx, []audio.MediaBlob{wav.Blob()}))
	}

	return nil
}
