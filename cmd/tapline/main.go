// Package main is the tapline event monitor. It attaches a dispatch
// pipeline to an input source, prints the events flowing through it,
// and exits on ESC or SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/tapline/tapline/internal/config"
	"github.com/tapline/tapline/internal/hid"
	"github.com/tapline/tapline/internal/observability"
	"github.com/tapline/tapline/internal/pipeline"
	"github.com/tapline/tapline/internal/prereq"
	"github.com/tapline/tapline/internal/tap"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		devicePath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&devicePath, "device", "", "Input device path (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("tapline %s (%s)\n", version, commit)
		return 0
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.FromFile(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if devicePath != "" {
		cfg.Device = devicePath
	}

	level, err := cfg.Level()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := monitor(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func monitor(cfg config.Config, logger *slog.Logger) error {
	var (
		term *terminalReader
		src  tap.Source
	)
	if cfg.Device != "" {
		var err error
		src, err = newDeviceSource(cfg.Device, logger)
		if err != nil {
			return err
		}
	} else {
		term = newTerminalReader()
		src = tap.NewRunLoopSource(func() tap.EventReader { return term },
			tap.WithLogger(logger))
	}

	// No wake/sleep feed exists for a portable CLI, so the change channel
	// stays open and silent; the prerequisite engine runs with its boot
	// state until Close.
	changes := make(chan prereq.Change)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithStreamBuffer(cfg.StreamBuffer),
		pipeline.WithChanges(changes),
	}
	if cfg.Metrics {
		opts = append(opts, pipeline.WithMetrics(observability.NewMetricsRecorder()))
	}

	d := pipeline.New(opts...)
	defer d.Close()

	quit := make(chan struct{})
	var quitOnce sync.Once

	// ESC and Ctrl-C from the terminal source are retained so they never
	// reach the printing observer below.
	d.AddReceiverFunc(func(ev *hid.Event) pipeline.Verdict {
		if ev.Type == hid.KeyDown {
			switch tcell.Key(ev.Code) {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				quitOnce.Do(func() { close(quit) })
				return pipeline.Retain
			}
		}
		return pipeline.Pass
	}, pipeline.WithPriority(1000))

	gate := newThrottle()
	if term != nil {
		d.AddObserverFunc(func(ev *hid.Event) {
			if ev.Type == hid.MouseMoved && !gate.allow(ev.Type, 100*time.Millisecond) {
				return
			}
			term.Show(eventLine(ev))
		}, pipeline.WithPriority(100))
	} else {
		d.AddObserverFunc(func(ev *hid.Event) {
			if ev.Type == hid.MouseMoved && !gate.allow(ev.Type, 100*time.Millisecond) {
				return
			}
			logger.Info("event",
				"type", ev.Type.String(),
				"code", ev.Code,
				"value", ev.Value)
		}, pipeline.WithPriority(100))
	}

	// A low-priority stream consumer counts events for the exit summary.
	streamCtx, stopStream := context.WithCancel(context.Background())
	defer stopStream()
	events := d.Stream(streamCtx, 1)
	streamed := make(chan uint64, 1)
	go func() {
		var n uint64
		for range events {
			n++
		}
		streamed <- n
	}()

	// The source is attached last so the first reconcile sees the
	// receivers registered above.
	d.SetSource(src)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case <-signals:
	}

	d.SetSource(nil)
	stopStream()
	n := <-streamed
	st := d.Stats()

	logger.Info("session summary",
		"dispatched", st.Dispatched,
		"consumed", st.Consumed,
		"forwarded", st.Forwarded,
		"streamed", n,
		"stream_drops", st.StreamDrops,
		"restarts", st.Restarts)
	return nil
}
