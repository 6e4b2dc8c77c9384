package layer

import (
	"image"
	"slices"
	"testing"

	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/caps"
	"github.com/gogpu/hwc/format"
	"github.com/gogpu/hwc/internal/slotmask"
	"github.com/gogpu/hwc/plane"
	"github.com/gogpu/hwc/platform"
	"github.com/gogpu/hwc/policy"
	"github.com/gogpu/hwc/zorder"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeHardware struct {
	reject  map[buffer.Handle]error
	next    plane.Token
	prepare int
}

func (h *fakeHardware) Prepare(_ plane.ID, _ int, buf buffer.DataBuffer, _ plane.Geometry) (plane.Token, error) {
	h.prepare++
	if err := h.reject[buf.Handle()]; err != nil {
		return 0, err
	}
	h.next++
	return h.next, nil
}

func (h *fakeHardware) Disable(plane.ID) error           { return nil }
func (h *fakeHardware) Commit(int, []plane.Update) error { return nil }

type env struct {
	t      *testing.T
	plat   *platform.Platform
	hw     *fakeHardware
	mapper *buffer.MemoryMapper
	pool   *plane.Pool
}

func newEnv(t *testing.T, p *platform.Platform) *env {
	t.Helper()
	e := &env{
		t:      t,
		plat:   p,
		hw:     &fakeHardware{reject: make(map[buffer.Handle]error)},
		mapper: buffer.NewMemoryMapper(),
	}
	pool, err := plane.NewPool(p.Layout(), e.hw, e.mapper, 0)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	e.pool = pool
	return e
}

func (e *env) screen(output int) image.Rectangle {
	o, _ := e.plat.Output(output)
	return image.Rect(0, 0, o.Width, o.Height)
}

func (e *env) alloc(f format.PixelFormat, w, h int, protected bool) buffer.Handle {
	e.t.Helper()
	hd, err := e.mapper.Allocate(buffer.Info{Format: f, Width: w, Height: h, Protected: protected})
	if err != nil {
		e.t.Fatalf("Allocate() error = %v", err)
	}
	return hd
}

// video is a full buffer layer of format f scaled into frame.
func (e *env) video(f format.PixelFormat, w, h int, frame image.Rectangle) Spec {
	return Spec{Handle: e.alloc(f, w, h, false), Frame: frame, Blending: format.BlendNone, Alpha: 255}
}

// ui is an unscaled premultiplied RGB layer at frame.
func (e *env) ui(frame image.Rectangle) Spec {
	return Spec{
		Handle:   e.alloc(format.BGRA8888, frame.Dx(), frame.Dy(), false),
		Frame:    frame,
		Blending: format.BlendPremultiplied,
		Alpha:    255,
	}
}

// run builds a list on output, assigns and updates it.
func (e *env) run(output int, specs []Spec, g policy.Gates) (*List, *Assigner) {
	e.t.Helper()
	a := NewAssigner(e.pool, e.plat, output)
	l := NewList(output, e.screen(output), specs, 0, e.mapper)
	a.Assign(l, g)
	a.Update(l)
	checkInvariants(e.t, l)
	checkConfig(e.t, l)
	return l, a
}

// checkInvariants verifies that planes are held exclusively, that every
// held plane is attached and that the primary plane is held exactly once.
func checkInvariants(t *testing.T, l *List) {
	t.Helper()
	seen := make(map[*plane.Plane]*Layer)
	primaries := 0
	for _, ly := range append(slices.Clone(l.Layers()), l.Target()) {
		pl := ly.Plane()
		if pl == nil {
			if ly.Composition() == Hardware {
				t.Errorf("%v is hardware without a plane", ly)
			}
			continue
		}
		if other, dup := seen[pl]; dup {
			t.Errorf("plane %v held by %v and %v", pl.ID(), other, ly)
		}
		seen[pl] = ly
		if pl.State() != plane.InUse || !pl.Attached() {
			t.Errorf("plane %v of %v is %v attached=%v", pl.ID(), ly, pl.State(), pl.Attached())
		}
		if pl.Kind() == plane.Primary {
			primaries++
		}
	}
	if primaries != 1 {
		t.Errorf("primary plane held %d times, want 1", primaries)
	}
}

// checkConfig verifies that the resolved stack only references planes held
// by its entries, so that no released plane reaches the hardware.
func checkConfig(t *testing.T, l *List) {
	t.Helper()
	cfg := l.Config()
	for i, e := range cfg.Entries {
		if e.Plane.State() != plane.InUse || !e.Plane.Attached() {
			t.Errorf("entry %d: plane %v is %v attached=%v", i, e.Plane.ID(), e.Plane.State(), e.Plane.Attached())
		}
		if e.Layer.Plane() != e.Plane {
			t.Errorf("entry %d: %v holds %v, stack says %v", i, e.Layer, e.Layer.Plane(), e.Plane.ID())
		}
	}
	ups := l.Updates()
	if len(ups) != cfg.Len() {
		t.Fatalf("updates = %d, want %d", len(ups), cfg.Len())
	}
	for i, u := range ups {
		if u.ID != cfg.Entries[i].Plane.ID() || u.Output != l.Output() {
			t.Errorf("update %d = %v on output %d, want %v on %d", i, u.ID, u.Output, cfg.Entries[i].Plane.ID(), l.Output())
		}
	}
}

// triple has three overlays and no table entry for three stacked videos.
func triple() *platform.Platform {
	one := slotmask.Of(0)
	ov := func(slot int) plane.ID { return plane.ID{Kind: plane.Overlay, Slot: slot} }
	return &platform.Platform{
		Name: "triple",
		Planes: plane.Layout{
			Overlays:  []slotmask.Mask{one, one, one},
			Primaries: []slotmask.Mask{one},
		},
		Outputs: []platform.Output{{
			Name:   "panel",
			Width:  1920,
			Height: 1080,
			Overlay: caps.Limits{
				Formats:      format.SetOf(format.NV12),
				Transforms:   format.TransformsOf(format.Identity),
				Blendings:    format.BlendingsOf(format.BlendNone),
				Scaling:      true,
				MaxSrcWidth:  1920,
				MaxSrcHeight: 1080,
			},
			Primary: caps.Limits{
				Formats:    format.SetOf(format.BGRX8888),
				Transforms: format.TransformsOf(format.Identity),
				Blendings:  format.BlendingsOf(format.BlendNone),
				FullScreen: true,
			},
			Table: &zorder.Table{
				Letters: map[byte]plane.ID{
					'A': {Kind: plane.Primary, Slot: 0},
					'D': ov(0), 'E': ov(1), 'F': ov(2),
				},
				Sequences: map[zorder.Key][]zorder.Sequence{
					{Count: 1}:                   {"A"},
					{Count: 2, VideoMask: 0b01}:  {"DA", "EA", "FA"},
					{Count: 2, VideoMask: 0b10}:  {"AD", "AE", "AF"},
					{Count: 3, VideoMask: 0b011}: {"DEA", "DFA", "EFA"},
					{Count: 3, VideoMask: 0b110}: {"ADE", "ADF", "AEF"},
				},
			},
		}},
	}
}

// spriteless is Solo without its sprite.
func spriteless() *platform.Platform {
	p := platform.Solo()
	p.Name = "spriteless"
	p.Planes.Sprites = nil
	return p
}

// =============================================================================
// Scenarios
// =============================================================================

func TestAssign_FullScreenOpaqueTakesPrimary(t *testing.T) {
	e := newEnv(t, platform.Twin())
	screen := e.screen(0)
	wallpaper := Spec{
		Handle: e.alloc(format.BGRX8888, 1920, 1080, false),
		Frame:  screen, Blending: format.BlendNone, Alpha: 255,
	}

	l, a := e.run(0, []Spec{wallpaper}, policy.DefaultGates())

	ly := l.Layer(0)
	if !ly.holds(plane.Primary) {
		t.Fatalf("layer 0 plane = %v, want primary", ly.Plane())
	}
	if n := len(l.Framebuffer()); n != 0 {
		t.Errorf("framebuffer has %d layers, want 0", n)
	}
	if l.TargetUsed() {
		t.Error("target must not hold a plane")
	}
	if got := l.Config().Kinds(); !slices.Equal(got, []plane.Kind{plane.Primary}) {
		t.Errorf("stack = %v, want [primary]", got)
	}
	// The sprite picked during classification went back to the pool.
	if s := e.pool.Stats(plane.Sprite); s.InUse != 0 || s.Reclaimed != 1 {
		t.Errorf("sprite stats = %+v", s)
	}
	if a.Stats().Passes != 1 {
		t.Errorf("Passes = %d, want 1", a.Stats().Passes)
	}
}

func TestAssign_VideoBelowFramebuffer(t *testing.T) {
	e := newEnv(t, spriteless())
	screen := e.screen(0)
	specs := []Spec{
		e.video(format.NV12, 1280, 720, screen),
		e.ui(image.Rect(100, 600, 400, 700)),
	}

	l, _ := e.run(0, specs, policy.DefaultGates())

	want := []Decision{
		{Index: 0, Composition: Hardware, Plane: plane.ID{Kind: plane.Overlay}, ZOrder: 0},
		{Index: 1, Composition: Framebuffer},
	}
	if got := l.Decisions(); !slices.Equal(got, want) {
		t.Errorf("Decisions() = %+v, want %+v", got, want)
	}
	if got := l.Config().Kinds(); !slices.Equal(got, []plane.Kind{plane.Overlay, plane.Primary}) {
		t.Errorf("stack = %v, want [overlay primary]", got)
	}
	if !l.TargetUsed() || l.Target().Plane().ZOrder() != 1 {
		t.Errorf("target plane = %v, want primary at z 1", l.Target().Plane())
	}
}

func TestAssign_ZOrderExhaustionDemotesWeakest(t *testing.T) {
	e := newEnv(t, triple())
	specs := []Spec{
		e.video(format.NV12, 640, 360, image.Rect(0, 0, 640, 360)),
		e.video(format.NV12, 1280, 720, image.Rect(640, 0, 1920, 720)),
		e.video(format.NV12, 1920, 1080, image.Rect(0, 0, 1920, 1080)),
	}

	type demotion struct {
		output, index int
		why           Demotion
	}
	var seen []demotion
	a := NewAssigner(e.pool, e.plat, 0)
	a.SetDemotionHook(func(output int, ly *Layer, d Demotion) {
		seen = append(seen, demotion{output, ly.Index(), d})
	})
	l := NewList(0, e.screen(0), specs, 0, e.mapper)
	a.Assign(l, policy.DefaultGates())
	a.Update(l)
	checkInvariants(t, l)

	if ly := l.Layer(0); ly.Composition() != Framebuffer || !ly.Demoted() {
		t.Errorf("layer 0 = %v demoted=%v, want framebuffer demoted", ly.Composition(), ly.Demoted())
	}
	for _, i := range []int{1, 2} {
		if !l.Layer(i).holds(plane.Overlay) {
			t.Errorf("layer %d plane = %v, want an overlay", i, l.Layer(i).Plane())
		}
	}
	if got := l.Config().Kinds(); !slices.Equal(got, []plane.Kind{plane.Primary, plane.Overlay, plane.Overlay}) {
		t.Errorf("stack = %v", got)
	}
	st := a.Stats()
	if st.ZOrderFailures != 1 || st.Demotions[DemoteZOrder] != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if want := []demotion{{0, 0, DemoteZOrder}}; !slices.Equal(seen, want) {
		t.Errorf("hook saw %v, want %v", seen, want)
	}
	if s := e.pool.Stats(plane.Overlay); s.InUse != 2 || s.Reclaimed != 1 {
		t.Errorf("overlay stats = %+v", s)
	}
}

// =============================================================================
// Primary reconciliation
// =============================================================================

func TestAssign_PrimarySubstitutesFramebuffer(t *testing.T) {
	e := newEnv(t, spriteless())
	screen := e.screen(0)
	specs := []Spec{
		{Handle: e.alloc(format.BGRX8888, 1280, 800, false), Frame: screen, Blending: format.BlendNone, Alpha: 255},
		e.video(format.NV12, 640, 360, image.Rect(0, 0, 640, 360)),
	}

	l, _ := e.run(0, specs, policy.DefaultGates())

	if !l.Layer(0).holds(plane.Primary) {
		t.Errorf("layer 0 plane = %v, want primary", l.Layer(0).Plane())
	}
	if !l.Layer(1).holds(plane.Overlay) {
		t.Errorf("layer 1 plane = %v, want overlay", l.Layer(1).Plane())
	}
	if l.TargetUsed() {
		t.Error("target must not be stacked")
	}
}

func TestAssign_PrimaryNeverStarves(t *testing.T) {
	tests := []struct {
		name  string
		plat  func() *platform.Platform
		specs func(e *env) []Spec
	}{
		{"empty", platform.Twin, func(*env) []Spec { return nil }},
		{"skip only", platform.Twin, func(*env) []Spec {
			return []Spec{{Frame: image.Rect(0, 0, 10, 10), Skip: true}}
		}},
		{"many ui", platform.Twin, func(e *env) []Spec {
			var s []Spec
			for i := range 6 {
				s = append(s, e.ui(image.Rect(i*100, 0, i*100+90, 90)))
			}
			return s
		}},
		{"video and ui", platform.Solo, func(e *env) []Spec {
			return []Spec{
				e.video(format.NV12, 1280, 720, image.Rect(0, 0, 1280, 800)),
				e.ui(image.Rect(0, 0, 200, 100)),
				e.ui(image.Rect(0, 700, 200, 800)),
			}
		}},
		{"unknown handle", platform.Solo, func(*env) []Spec {
			return []Spec{{Handle: 999, Frame: image.Rect(0, 0, 10, 10)}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.plat())
			e.run(0, tt.specs(e), policy.DefaultGates())
		})
	}
}

func TestAssign_IdentityExchange(t *testing.T) {
	e := newEnv(t, platform.Twin())
	specs := []Spec{
		e.video(format.NV12, 1920, 1080, e.screen(0)),
		e.ui(image.Rect(0, 0, 300, 200)),
		e.ui(image.Rect(400, 0, 800, 300)),
	}

	l, _ := e.run(0, specs, policy.DefaultGates())

	// Layer 2 is larger and classified first, but only DABC is legal for a
	// bottom video, which puts sprite 0 under sprite 1.
	want := map[int]plane.ID{
		0: {Kind: plane.Overlay, Slot: 0},
		1: {Kind: plane.Sprite, Slot: 0},
		2: {Kind: plane.Sprite, Slot: 1},
	}
	for i, id := range want {
		if pl := l.Layer(i).Plane(); pl == nil || pl.ID() != id {
			t.Errorf("layer %d plane = %v, want %v", i, pl, id)
		}
	}
	if got := l.Config().Kinds(); !slices.Equal(got, []plane.Kind{plane.Overlay, plane.Primary, plane.Sprite, plane.Sprite}) {
		t.Errorf("stack = %v", got)
	}
}

// =============================================================================
// Occlusion and gates
// =============================================================================

func TestAssign_Occlusion(t *testing.T) {
	tests := []struct {
		name     string
		above    image.Rectangle
		occluded bool
	}{
		{"overlapping", image.Rect(200, 200, 500, 500), true},
		{"disjoint", image.Rect(1000, 800, 1200, 1000), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, platform.Twin())
			specs := []Spec{
				{Frame: e.screen(0), Skip: true},
				e.ui(image.Rect(100, 100, 400, 300)),
				{Frame: tt.above, Skip: true},
			}
			l, a := e.run(0, specs, policy.DefaultGates())

			ly := l.Layer(1)
			if got := ly.Composition() == Framebuffer; got != tt.occluded {
				t.Errorf("layer 1 composition = %v, occluded want %v", ly.Composition(), tt.occluded)
			}
			if n := a.Stats().Demotions[DemoteOccluded]; (n == 1) != tt.occluded {
				t.Errorf("occluded demotions = %d", n)
			}
		})
	}
}

func TestAssign_Gates(t *testing.T) {
	t.Run("overlays disabled", func(t *testing.T) {
		e := newEnv(t, platform.Twin())
		g := policy.DefaultGates()
		g.OverlayAllowed = false
		l, _ := e.run(0, []Spec{e.video(format.NV12, 1920, 1080, e.screen(0))}, g)
		if l.Layer(0).Composition() != Framebuffer {
			t.Errorf("video composition = %v, want framebuffer", l.Layer(0).Composition())
		}
	})

	t.Run("protected present", func(t *testing.T) {
		e := newEnv(t, platform.Twin())
		specs := []Spec{
			e.video(format.NV12, 1920, 1080, e.screen(0)),
			{Handle: e.alloc(format.NV12, 640, 360, true), Frame: image.Rect(0, 0, 640, 360), Alpha: 255},
		}
		g := policy.DefaultGates()
		g.ProtectedPresent = true
		l, _ := e.run(0, specs, g)
		if l.Layer(0).Composition() != Framebuffer {
			t.Errorf("clear video composition = %v, want framebuffer", l.Layer(0).Composition())
		}
		if !l.Layer(1).holds(plane.Overlay) {
			t.Errorf("protected video plane = %v, want overlay", l.Layer(1).Plane())
		}
	})

	t.Run("extended mode", func(t *testing.T) {
		e := newEnv(t, platform.Twin())
		g := policy.DefaultGates()
		g.ExtendedMode = true

		l0, _ := e.run(0, []Spec{e.video(format.NV12, 1280, 720, e.screen(0))}, g)
		if l0.Layer(0).Composition() != Framebuffer {
			t.Errorf("panel video = %v, want framebuffer", l0.Layer(0).Composition())
		}
		l1, _ := e.run(1, []Spec{e.video(format.NV12, 1280, 720, e.screen(1))}, g)
		if !l1.Layer(0).holds(plane.Overlay) {
			t.Errorf("external video plane = %v, want overlay", l1.Layer(0).Plane())
		}
	})
}

func TestAssign_ProtectedWithoutPlaneIsBlank(t *testing.T) {
	e := newEnv(t, platform.Solo())
	g := policy.DefaultGates()
	g.OverlayAllowed = false
	specs := []Spec{
		{Handle: e.alloc(format.NV12, 1280, 800, true), Frame: e.screen(0), Alpha: 255},
		e.ui(image.Rect(0, 0, 200, 100)),
	}

	l, _ := e.run(0, specs, g)

	if c := l.Layer(0).Composition(); c != Blank {
		t.Errorf("protected composition = %v, want blank", c)
	}
	if !l.Layer(1).holds(plane.Sprite) {
		t.Errorf("ui plane = %v, want sprite", l.Layer(1).Plane())
	}
	if got := l.Config().Kinds(); !slices.Equal(got, []plane.Kind{plane.Primary, plane.Sprite}) {
		t.Errorf("stack = %v", got)
	}
}

func TestDemotionString(t *testing.T) {
	if DemoteZOrder.String() != "zorder" || Demotion(42).String() != "Demotion(42)" {
		t.Errorf("unexpected demotion names %q %q", DemoteZOrder, Demotion(42))
	}
	if Blank.String() != "blank" || Composition(9).String() != "Composition(9)" {
		t.Errorf("unexpected composition names %q %q", Blank, Composition(9))
	}
}
