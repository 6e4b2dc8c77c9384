// Package plane models the fixed-function display planes and the pool that
// arbitrates them.
//
// Every hardware slot is represented by one [Plane] created when the [Pool]
// is built. Planes are never destroyed during normal operation: a frame
// acquires them, attaches them to layers and hands them back, and the pool
// moves them through the Free, InUse and Reclaimed states. A released plane
// may still be latched by the display until the next vsync, so it stays
// Reclaimed until [Pool.RetireReclaimed] disables it at the start of the
// following frame.
package plane

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/format"
	"github.com/gogpu/hwc/internal/bufcache"
	"github.com/gogpu/hwc/internal/slotmask"
)

// Kind is the class of a hardware plane.
type Kind uint8

const (
	// Sprite is a general purpose RGB plane without scaling.
	Sprite Kind = iota
	// Overlay is a video plane accepting YUV content with bounded scaling.
	Overlay
	// Primary is the per-output plane that normally scans out the framebuffer.
	Primary

	numKinds
)

var kindNames = [numKinds]string{"sprite", "overlay", "primary"}

// String returns the lower case kind name.
func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Kinds lists every plane kind in acquisition preference order.
func Kinds() []Kind {
	return []Kind{Sprite, Overlay, Primary}
}

// ID is the stable hardware identity of a plane.
type ID struct {
	Kind Kind
	Slot int
}

func (id ID) String() string {
	return fmt.Sprintf("%v/%d", id.Kind, id.Slot)
}

// State is the lifecycle state of a plane.
type State uint8

const (
	// Free planes are off and may be acquired by any output they are wired to.
	Free State = iota
	// InUse planes belong to one output for the current frame.
	InUse
	// Reclaimed planes were released but still scan out until retired.
	Reclaimed
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case InUse:
		return "in-use"
	case Reclaimed:
		return "reclaimed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Token is an opaque hardware context returned when a buffer is programmed
// into a plane. The register layer uses it to find the prepared state at
// commit time.
type Token uint64

// Geometry is the source crop, destination frame and transform of a plane.
type Geometry struct {
	Src       image.Rectangle
	Dst       image.Rectangle
	Transform format.Transform
}

// Update is the resolved state of one active plane handed to the register
// layer when a frame is committed.
type Update struct {
	ID       ID
	Output   int
	Geometry Geometry
	ZOrder   int
	Token    Token
	Handle   buffer.Handle
}

// Hardware programs individual planes. Implementations wrap the register or
// ioctl layer of a platform; the allocator only sees these operations.
type Hardware interface {
	// Prepare programs buf with geometry g into plane id on output and
	// returns a token for the prepared state. An error wrapping
	// buffer.ErrNotReady means the plane rejected the buffer for now.
	Prepare(id ID, output int, buf buffer.DataBuffer, g Geometry) (Token, error)

	// Disable turns plane id off.
	Disable(id ID) error

	// Commit flips every update of one output at the next vsync.
	Commit(output int, updates []Update) error
}

// Errors.
var (
	// ErrAttached is returned when attaching a plane that is already attached.
	ErrAttached = errors.New("plane: already attached")

	// ErrDetached is returned when binding a buffer to a detached plane.
	ErrDetached = errors.New("plane: not attached")

	// ErrNoBuffer is returned when binding the zero handle.
	ErrNoBuffer = errors.New("plane: no buffer")
)

// Plane is one hardware composition unit. It is owned by its [Pool]; callers
// hold a reference only while a frame's layer is attached to it.
type Plane struct {
	id      ID
	outputs slotmask.Mask
	output  int // last output driven, -1 when none
	state   State

	attached bool
	geom     Geometry
	zorder   int
	current  buffer.DataBuffer
	token    Token

	cache  *bufcache.Cache[buffer.Handle, buffer.DataBuffer]
	hw     Hardware
	mapper buffer.Mapper
}

// ID returns the plane identity.
func (p *Plane) ID() ID { return p.id }

// Kind returns the plane kind.
func (p *Plane) Kind() Kind { return p.id.Kind }

// Slot returns the index of the plane among planes of its kind.
func (p *Plane) Slot() int { return p.id.Slot }

// Output returns the output the plane drives, or last drove while
// Reclaimed. It is -1 for a Free plane.
func (p *Plane) Output() int { return p.output }

// Outputs returns the mask of outputs the slot is wired to.
func (p *Plane) Outputs() slotmask.Mask { return p.outputs }

// State returns the lifecycle state.
func (p *Plane) State() State { return p.state }

// Attached reports whether a layer holds the plane.
func (p *Plane) Attached() bool { return p.attached }

// Geometry returns the geometry of the next bind.
func (p *Plane) Geometry() Geometry { return p.geom }

// ZOrder returns the hardware stacking position, 0 at the bottom.
func (p *Plane) ZOrder() int { return p.zorder }

// Token returns the token of the last successful bind, or 0.
func (p *Plane) Token() Token { return p.token }

// Buffer returns the data buffer bound by the last successful SetBuffer.
func (p *Plane) Buffer() buffer.DataBuffer { return p.current }

// Attach marks the plane as held by a layer. The plane must be in use.
func (p *Plane) Attach() error {
	if p.state != InUse {
		return fmt.Errorf("plane %v: attach in state %v", p.id, p.state)
	}
	if p.attached {
		return fmt.Errorf("plane %v: %w", p.id, ErrAttached)
	}
	p.attached = true
	return nil
}

// Detach releases the layer's hold and clears the geometry. The cached
// mappings and the latched buffer survive until the plane is retired.
func (p *Plane) Detach() {
	p.attached = false
	p.geom = Geometry{}
	p.zorder = 0
}

// SetGeometry stores the crop, frame and transform used by the next bind.
func (p *Plane) SetGeometry(g Geometry) {
	p.geom = g
}

// SetZOrder stores the hardware stacking position.
func (p *Plane) SetZOrder(z int) {
	p.zorder = z
}

// SetBuffer maps h, through the plane's cache when possible, and programs
// it with the current geometry. On failure the previously bound buffer and
// token stay in place, so a rejected frame keeps showing the last latched
// content.
func (p *Plane) SetBuffer(h buffer.Handle) error {
	if h == 0 {
		return fmt.Errorf("plane %v: %w", p.id, ErrNoBuffer)
	}
	if !p.attached {
		return fmt.Errorf("plane %v: %w", p.id, ErrDetached)
	}

	buf, ok := p.cache.Get(h)
	if !ok {
		var err error
		buf, err = p.mapper.Map(h)
		if err != nil {
			return fmt.Errorf("plane %v: %w", p.id, err)
		}
		p.cache.Put(h, buf)
	}
	if f, isFence := buf.(buffer.Fence); isFence && !f.Ready() {
		return fmt.Errorf("plane %v: %v: %w", p.id, h, buffer.ErrNotReady)
	}

	token, err := p.hw.Prepare(p.id, p.output, buf, p.geom)
	if err != nil {
		return fmt.Errorf("plane %v: prepare %v: %w", p.id, h, err)
	}
	p.current = buf
	p.token = token
	return nil
}

// InvalidateCache drops every cached mapping and the latched buffer.
func (p *Plane) InvalidateCache() {
	p.cache.Clear()
	p.current = nil
	p.token = 0
}

// Update returns the commit record for the plane's current state.
func (p *Plane) Update() Update {
	u := Update{
		ID:       p.id,
		Output:   p.output,
		Geometry: p.geom,
		ZOrder:   p.zorder,
		Token:    p.token,
	}
	if p.current != nil {
		u.Handle = p.current.Handle()
	}
	return u
}
