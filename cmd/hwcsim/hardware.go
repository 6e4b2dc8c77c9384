package main

import (
	"log/slog"
	"sync"

	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/internal/logging"
	"github.com/gogpu/hwc/plane"
)

// simHardware stands in for the display controller. It accepts every
// buffer and counts the commits of each output.
type simHardware struct {
	mu      sync.Mutex
	log     *slog.Logger
	token   plane.Token
	commits map[int]int
}

func newSimHardware() *simHardware {
	return &simHardware{
		log:     logging.Nop(),
		commits: make(map[int]int),
	}
}

// SetLogger is called by hwc.SetLogger.
func (h *simHardware) SetLogger(l *slog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = l.With("component", "hardware")
}

func (h *simHardware) Prepare(id plane.ID, output int, buf buffer.DataBuffer, g plane.Geometry) (plane.Token, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token++
	h.log.Debug("prepare", "plane", id, "output", output, "buffer", buf.Handle(), "src", g.Src, "dst", g.Dst)
	return h.token, nil
}

func (h *simHardware) Disable(id plane.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log.Debug("disable", "plane", id)
	return nil
}

func (h *simHardware) Commit(output int, updates []plane.Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commits[output]++
	h.log.Debug("commit", "output", output, "planes", len(updates))
	return nil
}

func (h *simHardware) commitCount(output int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commits[output]
}
