// Command hwcsim replays a JSON scenario of layer stacks through the plane
// allocator and logs every decision.
//
// Usage:
//
//	hwcsim -scenario testdata/video.json -png frame.png -v
//
// A background goroutine paces frames at the vsync rate and posts Vsync
// events to the device. With -png the framebuffer of output 0 is composed
// in software after the last frame and written as PNG.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/term"

	"github.com/gogpu/hwc"
)

func main() {
	var (
		path     = flag.String("scenario", "", "scenario file (JSON)")
		pngOut   = flag.String("png", "", "write the composed framebuffer of output 0 to this file")
		interval = flag.Duration("vsync", time.Second/60, "vsync interval")
		verbose  = flag.Bool("v", false, "log per-layer decisions")
		logFmt   = flag.String("log", "auto", "log format: auto, text or json")
	)
	flag.Parse()

	if *path == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger, err := newLogger(os.Stderr, *logFmt, level)
	if err != nil {
		log.Fatal(err)
	}
	hwc.SetLogger(logger)

	sc, err := loadScenario(*path)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sum, err := run(ctx, sc, config{interval: *interval, png: *pngOut})
	if err != nil {
		log.Fatal(err)
	}
	sum.print(os.Stdout)
}

// newLogger picks a text handler for terminals and JSON otherwise, unless
// the format is given.
func newLogger(f *os.File, format string, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(f, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(f, opts)), nil
	case "auto":
		if term.IsTerminal(int(f.Fd())) {
			return slog.New(slog.NewTextHandler(f, opts)), nil
		}
		return slog.New(slog.NewJSONHandler(f, opts)), nil
	default:
		return nil, fmt.Errorf("hwcsim: unknown log format %q", format)
	}
}
