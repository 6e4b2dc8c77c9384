package main

import (
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/layer"
	"github.com/gogpu/hwc/policy"
)

type config struct {
	interval time.Duration
	png      string
}

// summary is what the simulator prints after the last frame.
type summary struct {
	platform string
	frames   int
	errors   int
	displays []displaySummary
}

type displaySummary struct {
	name    string
	stats   hwc.DisplayStats
	commits int
}

func (s summary) print(w io.Writer) {
	fmt.Fprintf(w, "platform %s: %d frames, %d frame errors\n", s.platform, s.frames, s.errors)
	for i, d := range s.displays {
		st := d.stats
		fmt.Fprintf(w, "  output %d (%s): %d frames, %d rebuilds, %d commits, last frame %d hw / %d fb, target %t, vsync %d\n",
			i, d.name, st.Frames, st.Rebuilds, d.commits, st.Hardware, st.Framebuffer, st.TargetUsed, st.Vsync)
		for reason, n := range st.Assign.Demotions {
			if n > 0 {
				fmt.Fprintf(w, "    demoted %d x %s\n", n, layer.Demotion(reason))
			}
		}
	}
}

// run plays sc on a simulated controller. One goroutine paces the frames
// at the vsync rate; the other prepares and commits them.
func run(ctx context.Context, sc *scenario, cfg config) (summary, error) {
	hw := newSimHardware()
	mapper := buffer.NewMemoryMapper()
	dev, err := hwc.Open(sc.Platform, hw, mapper)
	if err != nil {
		return summary{}, err
	}
	defer dev.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	ticks := make(chan uint64)
	g.Go(func() error {
		return pace(ctx, dev, cfg.interval, ticks)
	})

	sum := summary{platform: sc.Platform}
	g.Go(func() error {
		defer cancel()
		return play(ctx, dev, newBuffers(mapper), sc, ticks, &sum)
	})
	if err := g.Wait(); err != nil {
		return summary{}, err
	}

	for _, disp := range dev.Displays() {
		sum.displays = append(sum.displays, displaySummary{
			name:    disp.Name(),
			stats:   disp.Stats(),
			commits: hw.commitCount(disp.Index()),
		})
	}
	if cfg.png != "" {
		if err := writePNG(dev, cfg.png); err != nil {
			return summary{}, err
		}
	}
	return sum, nil
}

// pace posts a Vsync event for every output at each tick and then hands
// the sequence number to the frame loop. It returns when ctx is done.
func pace(ctx context.Context, dev *hwc.Device, interval time.Duration, ticks chan<- uint64) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	n := len(dev.Displays())
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			seq++
			for out := range n {
				dev.Post(policy.Vsync{Output: out, Sequence: seq, Time: now})
			}
			select {
			case ticks <- seq:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func play(ctx context.Context, dev *hwc.Device, bufs *buffers, sc *scenario, ticks <-chan uint64, sum *summary) error {
	log := hwc.Logger()
	for si, st := range sc.Steps {
		for _, ed := range st.Events {
			e, err := ed.event()
			if err != nil {
				return fmt.Errorf("step %d: %w", si, err)
			}
			dev.Post(e)
		}

		for range max(st.Repeat, 1) {
			var seq uint64
			select {
			case seq = <-ticks:
			case <-ctx.Done():
				return ctx.Err()
			}

			frames := make([]hwc.Frame, 0, len(st.Outputs))
			for _, o := range st.Outputs {
				f, err := bufs.frame(o)
				if err != nil {
					return fmt.Errorf("step %d: %w", si, err)
				}
				frames = append(frames, f)
			}

			results, err := dev.Prepare(frames)
			sum.frames++
			if err != nil {
				sum.errors++
				log.Warn("hwcsim: prepare", "step", si, "vsync", seq, "err", err)
			}
			for _, r := range results {
				log.Info("hwcsim: frame", "step", si, "vsync", seq, "output", r.Output,
					"rebuilt", r.Rebuilt, "rounds", r.Rounds, "target", r.TargetUsed)
				for _, d := range r.Decisions {
					log.Debug("hwcsim: layer", "output", r.Output, "layer", d.Index,
						"composition", d.Composition, "plane", d.Plane, "zorder", d.ZOrder, "stale", d.Stale)
				}
			}
			if err := dev.Commit(results); err != nil {
				return fmt.Errorf("step %d: %w", si, err)
			}
		}
	}
	return nil
}

func writePNG(dev *hwc.Device, path string) error {
	disp, _ := dev.Display(0)
	target := disp.NewTarget()
	if _, err := disp.Compose(target); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, target.Image()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
