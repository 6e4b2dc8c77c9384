package hwc

import (
	"log/slog"
	"sync"

	"github.com/gogpu/hwc/internal/logging"
)

// SetLogger configures the logger for hwc and all its sub-packages.
// By default, hwc produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by hwc:
//   - [slog.LevelDebug]: per-layer decisions (plane assigned, demotion reason, chosen z-order)
//   - [slog.LevelInfo]: lifecycle events (device opened, hotplug, display rebuilt)
//   - [slog.LevelWarn]: cumulative fallbacks (repeated not-ready buffers, z-order exhaustion streaks)
//   - [slog.LevelError]: platform table or invariant violations outside debug builds
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	hwc.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
	l = logging.Logger()

	openMu.Lock()
	defer openMu.Unlock()
	for d := range open {
		propagateLogger(d.hw, l)
	}
}

// Logger returns the current logger used by hwc.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.Logger()
}

// loggerSetter is implemented by hardware backends that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to a hardware backend if it implements
// loggerSetter. Called from both SetLogger and New so that open devices
// always log through the current logger.
func propagateLogger(hw any, l *slog.Logger) {
	if ls, ok := hw.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

// open tracks devices between New and Close for logger propagation.
var (
	openMu sync.Mutex
	open   = make(map[*Device]struct{})
)

func track(d *Device) {
	openMu.Lock()
	defer openMu.Unlock()
	open[d] = struct{}{}
	propagateLogger(d.hw, logging.Logger())
}

func untrack(d *Device) {
	openMu.Lock()
	defer openMu.Unlock()
	delete(open, d)
}
