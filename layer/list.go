// Package layer holds the per-frame layer list of a display and the engine
// that assigns hardware planes to its layers.
//
// A [List] is built from the windowing system's stack for one output. The
// [Assigner] classifies each layer against the plane kinds of the platform,
// hands the primary plane to the entry that gains the most from it, and
// resolves the hardware stacking order with the output's z-order table.
// Every layer ends up either on a plane or in the framebuffer target.
package layer

import (
	"image"

	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/plane"
)

// Entry is one row of the hardware stack.
type Entry struct {
	Layer *Layer
	Plane *plane.Plane
}

// Config is the resolved hardware stack of one display, bottom to top.
type Config struct {
	Entries []Entry
}

// Len returns the number of stacked planes.
func (c Config) Len() int { return len(c.Entries) }

// Count returns how many entries use kind k.
func (c Config) Count(k plane.Kind) int {
	n := 0
	for _, e := range c.Entries {
		if e.Plane.Kind() == k {
			n++
		}
	}
	return n
}

// Kinds returns the plane kind of every entry, bottom to top.
func (c Config) Kinds() []plane.Kind {
	kinds := make([]plane.Kind, len(c.Entries))
	for i, e := range c.Entries {
		kinds[i] = e.Plane.Kind()
	}
	return kinds
}

// Decision is the outcome for one submitted layer.
type Decision struct {
	Index       int
	Composition Composition

	// Plane and ZOrder are meaningful when Composition is Hardware.
	Plane  plane.ID
	ZOrder int

	// Stale is set when the plane kept an older buffer this frame.
	Stale bool
}

// List is the layer stack of one display for the lifetime of one geometry.
type List struct {
	output int
	screen image.Rectangle
	mapper buffer.Mapper

	layers []*Layer
	target *Layer
	config Config
}

// NewList builds the list for specs, bottom first, on output. target is
// the framebuffer buffer the compositor renders into, or 0 when the host
// binds it itself. Handles the mapper cannot describe are composed in the
// framebuffer.
func NewList(output int, screen image.Rectangle, specs []Spec, target buffer.Handle, mapper buffer.Mapper) *List {
	l := &List{
		output: output,
		screen: screen,
		mapper: mapper,
		layers: make([]*Layer, len(specs)),
		target: newTarget(screen, target),
	}
	for i, s := range specs {
		l.layers[i] = newLayer(i, s, mapper)
	}
	return l
}

func (l *List) Output() int             { return l.output }
func (l *List) Screen() image.Rectangle { return l.screen }
func (l *List) Len() int                { return len(l.layers) }

// Layer returns the layer at submission index i.
func (l *List) Layer(i int) *Layer { return l.layers[i] }

// Layers returns the submitted layers, bottom first. The slice must not be
// modified.
func (l *List) Layers() []*Layer { return l.layers }

// Target returns the framebuffer target entry.
func (l *List) Target() *Layer { return l.target }

// Framebuffer returns the layers composed into the framebuffer target,
// including blanked ones, bottom first.
func (l *List) Framebuffer() []*Layer {
	var out []*Layer
	for _, ly := range l.layers {
		if ly.comp != Hardware {
			out = append(out, ly)
		}
	}
	return out
}

// Hardware returns the submitted layers holding a plane, bottom first.
func (l *List) Hardware() []*Layer {
	var out []*Layer
	for _, ly := range l.layers {
		if ly.comp == Hardware {
			out = append(out, ly)
		}
	}
	return out
}

// TargetUsed reports whether the primary plane scans out the framebuffer.
func (l *List) TargetUsed() bool {
	return l.target.plane != nil
}

// ProtectedPresent reports whether any layer carries protected content.
func (l *List) ProtectedPresent() bool {
	for _, ly := range l.layers {
		if ly.info.Protected {
			return true
		}
	}
	return false
}

// Config returns the hardware stack resolved by the last reconciliation.
func (l *List) Config() Config { return l.config }

// Decisions returns one decision per submitted layer.
func (l *List) Decisions() []Decision {
	out := make([]Decision, len(l.layers))
	for i, ly := range l.layers {
		d := Decision{Index: i, Composition: ly.comp, Stale: ly.stale}
		if ly.plane != nil {
			d.Plane = ly.plane.ID()
			d.ZOrder = ly.plane.ZOrder()
		}
		out[i] = d
	}
	return out
}

// Updates returns the commit records of every stacked plane.
func (l *List) Updates() []plane.Update {
	out := make([]plane.Update, 0, len(l.config.Entries))
	for _, e := range l.config.Entries {
		out = append(out, e.Plane.Update())
	}
	return out
}

// Matches reports whether specs describe the same geometry as the list, so
// that the next frame can reuse its assignment. Any difference in layer
// count, geometry or buffer attributes is a topology change.
func (l *List) Matches(specs []Spec) bool {
	if len(specs) != len(l.layers) {
		return false
	}
	for i, s := range specs {
		ly := l.layers[i]
		if !s.sameGeometry(l.cropDefaulted(ly, s)) {
			return false
		}
		if s.Handle == ly.spec.Handle {
			continue
		}
		if s.Handle == 0 || ly.spec.Handle == 0 || !ly.valid {
			return false
		}
		info, err := l.mapper.Describe(s.Handle)
		if err != nil {
			return false
		}
		if info.Format != ly.info.Format || info.Width != ly.info.Width ||
			info.Height != ly.info.Height || info.Protected != ly.info.Protected {
			return false
		}
	}
	return true
}

// cropDefaulted returns the layer spec as it would compare against s,
// undoing the crop default applied at construction.
func (l *List) cropDefaulted(ly *Layer, s Spec) Spec {
	spec := ly.spec
	if s.Crop.Empty() && spec.Crop == ly.info.Bounds() {
		spec.Crop = s.Crop
	}
	return spec
}

// Refresh adopts the handles of specs for the next frame. The caller has
// checked Matches.
func (l *List) Refresh(specs []Spec, target buffer.Handle) {
	for i, s := range specs {
		l.layers[i].spec.Handle = s.Handle
	}
	l.target.spec.Handle = target
}

// Release returns every plane held by the list to pool. The list must not
// be used afterwards.
func (l *List) Release(pool *plane.Pool) {
	release := func(ly *Layer) {
		if pl := ly.detach(); pl != nil {
			pool.Release(pl)
		}
	}
	for _, ly := range l.layers {
		release(ly)
	}
	release(l.target)
	l.config = Config{}
}
