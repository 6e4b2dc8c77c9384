package hwc

import (
	"image"
	"time"

	"github.com/gogpu/hwc/compose"
	"github.com/gogpu/hwc/internal/logging"
	"github.com/gogpu/hwc/layer"
	"github.com/gogpu/hwc/policy"
)

// DisplayStats counts the work done for one output.
type DisplayStats struct {
	Frames   int
	Rebuilds int

	// Hardware and Framebuffer count the layers of the last frame by
	// composition.
	Hardware    int
	Framebuffer int
	TargetUsed  bool

	Assign layer.Stats

	// Vsync is the sequence number of the last vertical blank seen.
	Vsync     uint64
	VsyncTime time.Time
}

// Display is one output of a Device.
type Display struct {
	dev       *Device
	index     int
	name      string
	screen    image.Rectangle
	connected bool

	assigner   *layer.Assigner
	compositor *compose.Compositor
	list       *layer.List
	gates      policy.Gates
	forced     []int
	stats      DisplayStats
}

func newDisplay(d *Device, i int) *Display {
	out, _ := d.plat.Output(i)
	disp := &Display{
		dev:        d,
		index:      i,
		name:       out.Name,
		screen:     image.Rect(0, 0, out.Width, out.Height),
		connected:  true,
		assigner:   layer.NewAssigner(d.pool, d.plat, i),
		compositor: compose.New(d.mapper, compose.WithInterpolator(d.opts.interp)),
	}
	disp.assigner.SetDemotionHook(d.opts.hook)
	return disp
}

func (disp *Display) Index() int              { return disp.index }
func (disp *Display) Name() string            { return disp.name }
func (disp *Display) Screen() image.Rectangle { return disp.screen }
func (disp *Display) Connected() bool         { return disp.connected }

// List returns the layer list of the last prepared frame, or nil.
func (disp *Display) List() *layer.List { return disp.list }

// Stats returns the display counters.
func (disp *Display) Stats() DisplayStats {
	st := disp.stats
	st.Assign = disp.assigner.Stats()
	return st
}

// NewTarget creates a framebuffer target sized to the display, in the
// surface format of the device provider when one was given.
func (disp *Display) NewTarget() *compose.Target {
	return compose.NewTarget(disp.screen.Dx(), disp.screen.Dy(), disp.dev.opts.provider)
}

// Compose renders the framebuffer layers of the last prepared frame into t.
func (disp *Display) Compose(t *compose.Target) (compose.Stats, error) {
	if disp.list == nil {
		return compose.Stats{}, &OutputError{Output: disp.index, Err: ErrNotPrepared}
	}
	return disp.compositor.Compose(t, disp.list.Framebuffer()), nil
}

// prepare assigns f. The previous list is reused when only buffers
// changed; anything else rebuilds it.
func (disp *Display) prepare(f Frame, g policy.Gates) Result {
	rebuilt := disp.list == nil || f.GeometryChanged || g != disp.gates || !disp.list.Matches(f.Layers)
	if rebuilt {
		disp.discard()
		disp.list = layer.NewList(disp.index, disp.screen, f.Layers, f.Target, disp.dev.mapper)
		disp.gates = g
		disp.assigner.Assign(disp.list, g)
		disp.stats.Rebuilds++
		logging.Logger().Debug("hwc: list rebuilt", "output", disp.index, "layers", len(f.Layers), "gates", g)
	} else {
		disp.list.Refresh(f.Layers, f.Target)
	}

	for _, i := range disp.forced {
		disp.assigner.Force(disp.list, i)
	}
	disp.forced = nil

	rounds := disp.assigner.Update(disp.list)

	disp.stats.Frames++
	disp.stats.Hardware = len(disp.list.Hardware())
	disp.stats.Framebuffer = len(disp.list.Framebuffer())
	disp.stats.TargetUsed = disp.list.TargetUsed()

	return Result{
		Output:     disp.index,
		Decisions:  disp.list.Decisions(),
		TargetUsed: disp.list.TargetUsed(),
		Updates:    disp.list.Updates(),
		Rebuilt:    rebuilt,
		Rounds:     rounds,
	}
}

// force pins layer i to the framebuffer from the next prepared frame on.
func (disp *Display) force(i int) {
	disp.forced = append(disp.forced, i)
}

func (disp *Display) hotplug(e policy.Hotplug) {
	disp.discard()
	disp.forced = nil
	disp.connected = e.Connected
	if e.Connected && e.Width > 0 && e.Height > 0 {
		disp.screen = image.Rect(0, 0, e.Width, e.Height)
	}
	logging.Logger().Info("hwc: hotplug", "output", disp.index, "name", disp.name,
		"connected", e.Connected, "screen", disp.screen)
}

func (disp *Display) vsync(e policy.Vsync) {
	disp.stats.Vsync = e.Sequence
	disp.stats.VsyncTime = e.Time
}

// discard releases the current list's planes to the pool.
func (disp *Display) discard() {
	if disp.list == nil {
		return
	}
	disp.list.Release(disp.dev.pool)
	disp.list = nil
}
