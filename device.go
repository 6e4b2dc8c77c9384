package hwc

import (
	"errors"
	"fmt"

	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/internal/logging"
	"github.com/gogpu/hwc/layer"
	"github.com/gogpu/hwc/plane"
	"github.com/gogpu/hwc/platform"
	"github.com/gogpu/hwc/policy"
)

// Errors returned by Device.
var (
	ErrClosed         = errors.New("hwc: device closed")
	ErrUnknownOutput  = errors.New("hwc: unknown output")
	ErrDisconnected   = errors.New("hwc: output disconnected")
	ErrDuplicateFrame = errors.New("hwc: more than one frame for output")
	ErrNotPrepared    = errors.New("hwc: display has no prepared frame")
)

// OutputError reports a failure on one output.
type OutputError struct {
	Output int
	Err    error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("hwc: output %d: %v", e.Output, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// Frame is the layer stack the windowing system submits for one output.
type Frame struct {
	Output int

	// Layers are bottom first.
	Layers []layer.Spec

	// Target is the framebuffer target buffer, or 0 when the host binds it.
	Target buffer.Handle

	// GeometryChanged discards the previous assignment even when the
	// layers look the same.
	GeometryChanged bool
}

// Result is the outcome of Prepare for one output.
type Result struct {
	Output int

	// Decisions holds one entry per submitted layer.
	Decisions []layer.Decision

	// TargetUsed reports whether the framebuffer target is scanned out, so
	// the host must compose the framebuffer layers.
	TargetUsed bool

	// Updates are the plane records Commit hands to the hardware.
	Updates []plane.Update

	// Rebuilt is set when the layer list was built afresh.
	Rebuilt bool

	// Rounds is the number of bind rounds the update loop needed.
	Rounds int
}

// Device allocates the hardware planes of one display controller among
// its outputs.
//
// Prepare, Commit and Close must be called from one goroutine, typically
// the compositor's frame loop. Post may be called from any goroutine.
type Device struct {
	plat     *platform.Platform
	hw       plane.Hardware
	mapper   buffer.Mapper
	pool     *plane.Pool
	events   *policy.Queue
	opts     options
	gates    policy.Gates
	displays []*Display
	closed   bool
}

// Open creates a device for the registered platform name.
func Open(name string, hw plane.Hardware, mapper buffer.Mapper, opts ...Option) (*Device, error) {
	p, err := platform.Lookup(name)
	if err != nil {
		return nil, err
	}
	return New(p, hw, mapper, opts...)
}

// New creates a device for platform p, programming planes through hw and
// resolving buffer handles through mapper.
func New(p *platform.Platform, hw plane.Hardware, mapper buffer.Mapper, opts ...Option) (*Device, error) {
	if p == nil {
		return nil, errors.New("hwc: nil platform")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := plane.NewPool(p.Layout(), hw, mapper, o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("hwc: %w", err)
	}

	d := &Device{
		plat:   p,
		hw:     hw,
		mapper: mapper,
		pool:   pool,
		events: policy.NewQueue(),
		opts:   o,
		gates:  o.gates,
	}
	for i := range p.NumOutputs() {
		d.displays = append(d.displays, newDisplay(d, i))
	}
	track(d)
	logging.Logger().Info("hwc: device opened", "platform", p.Name, "outputs", p.NumOutputs())
	return d, nil
}

// Platform returns the platform the device was created for.
func (d *Device) Platform() *platform.Platform { return d.plat }

// Pool returns the plane pool. It is meant for inspection.
func (d *Device) Pool() *plane.Pool { return d.pool }

// Gates returns the gates set by options and events.
func (d *Device) Gates() policy.Gates { return d.gates }

// Display returns display i.
func (d *Device) Display(i int) (*Display, bool) {
	if i < 0 || i >= len(d.displays) {
		return nil, false
	}
	return d.displays[i], true
}

// Displays returns every display, by output index.
func (d *Device) Displays() []*Display { return d.displays }

// Post queues e for the next Prepare. It is safe for concurrent use and
// reports false once the device is closed.
func (d *Device) Post(e policy.Event) bool {
	return d.events.Post(e)
}

// Prepare runs one allocation pass over frames. Queued events are applied
// first, planes reclaimed in the previous frame are retired, then every
// frame's output is assigned. Outputs without a frame keep their state.
//
// Frames that cannot be prepared are reported as *OutputError values
// joined into the returned error; the results of the other frames are
// still returned.
func (d *Device) Prepare(frames []Frame) ([]Result, error) {
	if d.closed {
		return nil, ErrClosed
	}

	for _, e := range d.events.Drain() {
		d.apply(e)
	}
	d.pool.RetireReclaimed()

	g := d.gates
	g.ProtectedPresent = g.ProtectedPresent || d.protectedPresent(frames)

	var (
		results []Result
		errs    []error
		seen    = make(map[int]bool, len(frames))
	)
	for _, f := range frames {
		disp, ok := d.Display(f.Output)
		switch {
		case !ok:
			errs = append(errs, &OutputError{Output: f.Output, Err: ErrUnknownOutput})
			continue
		case seen[f.Output]:
			errs = append(errs, &OutputError{Output: f.Output, Err: ErrDuplicateFrame})
			continue
		case !disp.connected:
			errs = append(errs, &OutputError{Output: f.Output, Err: ErrDisconnected})
			continue
		}
		seen[f.Output] = true
		results = append(results, disp.prepare(f, g))
	}
	return results, errors.Join(errs...)
}

// protectedPresent reports whether any submitted layer is protected.
func (d *Device) protectedPresent(frames []Frame) bool {
	for _, f := range frames {
		for _, s := range f.Layers {
			if s.Handle == 0 {
				continue
			}
			if info, err := d.mapper.Describe(s.Handle); err == nil && info.Protected {
				return true
			}
		}
	}
	return false
}

// apply executes one policy event.
func (d *Device) apply(e policy.Event) {
	log := logging.Logger()
	switch e := e.(type) {
	case policy.Hotplug:
		disp, ok := d.Display(e.Output)
		if !ok {
			log.Warn("hwc: hotplug for unknown output", "output", e.Output)
			return
		}
		disp.hotplug(e)
	case policy.SetGates:
		log.Info("hwc: gates changed", "gates", e.Gates)
		d.gates = e.Gates
	case policy.DisableOverlays:
		d.gates.OverlayAllowed = false
		n := 0
		for _, disp := range d.displays {
			if disp.list != nil {
				n += disp.assigner.DemoteKind(disp.list, plane.Overlay)
			}
		}
		log.Info("hwc: overlays disabled", "demoted", n)
	case policy.ForceFramebuffer:
		disp, ok := d.Display(e.Output)
		if !ok {
			log.Warn("hwc: force for unknown output", "output", e.Output)
			return
		}
		disp.force(e.Index)
	case policy.Vsync:
		if disp, ok := d.Display(e.Output); ok {
			disp.vsync(e)
		}
	default:
		log.Warn("hwc: unknown event", "event", fmt.Sprintf("%T", e))
	}
}

// Commit hands the prepared plane updates of every output in results to
// the hardware.
func (d *Device) Commit(results []Result) error {
	if d.closed {
		return ErrClosed
	}
	var errs []error
	for _, r := range results {
		if err := d.hw.Commit(r.Output, r.Updates); err != nil {
			errs = append(errs, &OutputError{Output: r.Output, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Close releases every plane, disables the hardware planes and stops the
// event queue. Close is idempotent.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	untrack(d)
	d.events.Stop()
	for _, disp := range d.displays {
		disp.discard()
	}
	if err := d.pool.Close(); err != nil {
		return fmt.Errorf("hwc: close: %w", err)
	}
	logging.Logger().Info("hwc: device closed", "platform", d.plat.Name)
	return nil
}
