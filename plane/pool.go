package plane

import (
	"errors"
	"fmt"

	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/internal/assert"
	"github.com/gogpu/hwc/internal/bufcache"
	"github.com/gogpu/hwc/internal/logging"
	"github.com/gogpu/hwc/internal/slotmask"
)

// DefaultCacheSize is the number of mapped buffers each plane remembers.
// Windowing systems usually rotate two or three buffers per layer.
const DefaultCacheSize = 3

// Layout describes the physical planes of a device. Each entry is one slot
// of that kind and holds the mask of outputs the slot can drive.
type Layout struct {
	Sprites   []slotmask.Mask
	Overlays  []slotmask.Mask
	Primaries []slotmask.Mask
}

// Outputs returns the output mask of a slot wired to the given outputs.
func Outputs(outputs ...int) slotmask.Mask {
	return slotmask.Of(outputs...)
}

func (l Layout) slots(k Kind) []slotmask.Mask {
	switch k {
	case Sprite:
		return l.Sprites
	case Overlay:
		return l.Overlays
	case Primary:
		return l.Primaries
	}
	return nil
}

// Stats counts the planes of one kind by state. Total always equals
// Free + Reclaimed + InUse.
type Stats struct {
	Total     int
	Free      int
	Reclaimed int
	InUse     int
}

// Masks holds the slot bitmasks of one kind by state.
type Masks struct {
	Free      slotmask.Mask
	Reclaimed slotmask.Mask
	InUse     slotmask.Mask
}

// Errors returned by NewPool.
var (
	ErrNoHardware   = errors.New("plane: nil hardware")
	ErrNoMapper     = errors.New("plane: nil buffer mapper")
	ErrTooManySlots = fmt.Errorf("plane: more than %d slots of one kind", slotmask.Max)
	ErrNoOutputs    = errors.New("plane: slot drives no output")
)

// Pool owns every plane of a device.
//
// A pass acquires planes with [Pool.Acquire] or [Pool.AcquireSlot]. An
// exhausted kind is reported with ok == false, which is the normal signal to
// compose the layer into the framebuffer instead. Released planes become
// Reclaimed and can be picked up again only by the output they last drove,
// until [Pool.RetireReclaimed] disables them and returns them to Free.
//
// Pool is not safe for concurrent use; it is driven from the prepare pass.
type Pool struct {
	hw     Hardware
	planes [numKinds][]*Plane
}

// NewPool creates one plane per slot of layout. cacheSize bounds the mapped
// buffers remembered per plane; values below 1 select DefaultCacheSize.
func NewPool(layout Layout, hw Hardware, mapper buffer.Mapper, cacheSize int) (*Pool, error) {
	if hw == nil {
		return nil, ErrNoHardware
	}
	if mapper == nil {
		return nil, ErrNoMapper
	}
	if cacheSize < 1 {
		cacheSize = DefaultCacheSize
	}

	p := &Pool{hw: hw}
	for _, k := range Kinds() {
		slots := layout.slots(k)
		if len(slots) > slotmask.Max {
			return nil, fmt.Errorf("%w: %d %v slots", ErrTooManySlots, len(slots), k)
		}
		p.planes[k] = make([]*Plane, len(slots))
		for i, outputs := range slots {
			if outputs.Empty() {
				return nil, fmt.Errorf("%w: %v", ErrNoOutputs, ID{k, i})
			}
			p.planes[k][i] = &Plane{
				id:      ID{Kind: k, Slot: i},
				outputs: outputs,
				output:  -1,
				state:   Free,
				cache:   bufcache.New[buffer.Handle, buffer.DataBuffer](cacheSize),
				hw:      hw,
				mapper:  mapper,
			}
		}
	}
	return p, nil
}

// Plane returns the plane with the given identity.
func (p *Pool) Plane(id ID) (*Plane, bool) {
	if id.Kind >= numKinds || id.Slot < 0 || id.Slot >= len(p.planes[id.Kind]) {
		return nil, false
	}
	return p.planes[id.Kind][id.Slot], true
}

// Capacity returns how many slots of kind k can drive output.
func (p *Pool) Capacity(k Kind, output int) int {
	n := 0
	for _, pl := range p.kind(k) {
		if pl.outputs.Has(output) {
			n++
		}
	}
	return n
}

// usable reports whether pl may be handed to output right now.
func usable(pl *Plane, output int) bool {
	switch pl.state {
	case Free:
		return pl.outputs.Has(output)
	case Reclaimed:
		return pl.output == output
	}
	return false
}

// candidates returns the slots of kind k in state s that output may take.
func (p *Pool) candidates(k Kind, s State, output int) slotmask.Mask {
	var m slotmask.Mask
	for i, pl := range p.kind(k) {
		if pl.state == s && usable(pl, output) {
			m = m.Set(i)
		}
	}
	return m
}

// Acquire hands out a plane of kind k for output. A plane this output
// released in the previous frame is preferred over a free one, since its
// hardware is already set up for the output. It reports false when no
// plane of the kind is available.
func (p *Pool) Acquire(k Kind, output int) (*Plane, bool) {
	reclaimed := true
	slot := p.candidates(k, Reclaimed, output).First()
	if slot < 0 {
		reclaimed = false
		slot = p.candidates(k, Free, output).First()
	}
	if slot < 0 {
		logging.Logger().Debug("plane: pool exhausted", "kind", k, "output", output)
		return nil, false
	}

	pl := p.planes[k][slot]
	p.take(pl, output)
	logging.Logger().Debug("plane: acquired", "plane", pl.id, "output", output, "reclaimed", reclaimed)
	return pl, true
}

// AcquireSlot hands out the plane with identity id for output, if it is
// available.
func (p *Pool) AcquireSlot(id ID, output int) (*Plane, bool) {
	pl, ok := p.Plane(id)
	if !ok || !usable(pl, output) {
		return nil, false
	}
	p.take(pl, output)
	logging.Logger().Debug("plane: acquired slot", "plane", id, "output", output)
	return pl, true
}

// Available reports whether AcquireSlot(id, output) would succeed.
func (p *Pool) Available(id ID, output int) bool {
	pl, ok := p.Plane(id)
	return ok && usable(pl, output)
}

func (p *Pool) take(pl *Plane, output int) {
	if pl.output != output {
		// A free plane changing outputs starts with a cold cache.
		pl.cache.Clear()
	}
	pl.state = InUse
	pl.output = output
}

// Release hands pl back to the pool. The plane is detached and becomes
// Reclaimed; its hardware stays programmed until the next RetireReclaimed.
func (p *Pool) Release(pl *Plane) {
	if pl == nil {
		return
	}
	if pl.state != InUse {
		assert.Failf("release of plane %v in state %v", pl.id, pl.state)
		return
	}
	pl.Detach()
	pl.state = Reclaimed
	logging.Logger().Debug("plane: released", "plane", pl.id, "output", pl.output)
}

// RetireReclaimed disables every Reclaimed plane, drops its cached
// mappings and returns it to Free. It must run once per frame before
// allocation, after the hardware has latched the previous frame. It returns
// the number of planes retired; with nothing reclaimed it changes nothing.
func (p *Pool) RetireReclaimed() int {
	n := 0
	for _, k := range Kinds() {
		for _, pl := range p.planes[k] {
			if pl.state != Reclaimed {
				continue
			}
			if err := p.hw.Disable(pl.id); err != nil {
				logging.Logger().Warn("plane: disable failed", "plane", pl.id, "err", err)
			}
			pl.InvalidateCache()
			pl.state = Free
			pl.output = -1
			n++
		}
	}
	if n > 0 {
		logging.Logger().Debug("plane: retired reclaimed planes", "count", n)
	}
	return n
}

// Stats returns the state counts for kind k.
func (p *Pool) Stats(k Kind) Stats {
	s := Stats{Total: len(p.kind(k))}
	for _, pl := range p.kind(k) {
		switch pl.state {
		case Free:
			s.Free++
		case Reclaimed:
			s.Reclaimed++
		case InUse:
			s.InUse++
		}
	}
	return s
}

// Masks returns the slot bitmasks for kind k.
func (p *Pool) Masks(k Kind) Masks {
	var m Masks
	for i, pl := range p.kind(k) {
		switch pl.state {
		case Free:
			m.Free = m.Free.Set(i)
		case Reclaimed:
			m.Reclaimed = m.Reclaimed.Set(i)
		case InUse:
			m.InUse = m.InUse.Set(i)
		}
	}
	return m
}

// Close disables every plane that is not Free and returns all planes to
// Free. The pool stays usable; Close exists for display teardown.
func (p *Pool) Close() error {
	var errs []error
	for _, k := range Kinds() {
		for _, pl := range p.planes[k] {
			if pl.state == Free {
				continue
			}
			if err := p.hw.Disable(pl.id); err != nil {
				errs = append(errs, fmt.Errorf("plane %v: %w", pl.id, err))
			}
			pl.Detach()
			pl.InvalidateCache()
			pl.state = Free
			pl.output = -1
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) kind(k Kind) []*Plane {
	if k >= numKinds {
		return nil
	}
	return p.planes[k]
}
