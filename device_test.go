package hwc

import (
	"errors"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/format"
	"github.com/gogpu/hwc/layer"
	"github.com/gogpu/hwc/plane"
	"github.com/gogpu/hwc/platform"
	"github.com/gogpu/hwc/policy"
)

// =============================================================================
// Test doubles
// =============================================================================

// recordingHardware implements plane.Hardware and records what it was told.
type recordingHardware struct {
	mu         sync.Mutex
	next       plane.Token
	commits    map[int][]plane.Update
	disabled   []plane.ID
	failCommit error
	logger     *slog.Logger
}

func newRecordingHardware() *recordingHardware {
	return &recordingHardware{commits: make(map[int][]plane.Update)}
}

func (h *recordingHardware) Prepare(plane.ID, int, buffer.DataBuffer, plane.Geometry) (plane.Token, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	return h.next, nil
}

func (h *recordingHardware) Disable(id plane.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disabled = append(h.disabled, id)
	return nil
}

func (h *recordingHardware) Commit(output int, updates []plane.Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failCommit != nil {
		return h.failCommit
	}
	h.commits[output] = updates
	return nil
}

func (h *recordingHardware) SetLogger(l *slog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger = l
}

type fixture struct {
	t      *testing.T
	dev    *Device
	hw     *recordingHardware
	mapper *buffer.MemoryMapper
}

func newFixture(t *testing.T, name string, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{t: t, hw: newRecordingHardware(), mapper: buffer.NewMemoryMapper()}
	dev, err := Open(name, f.hw, f.mapper, opts...)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", name, err)
	}
	t.Cleanup(func() { dev.Close() })
	f.dev = dev
	return f
}

func (f *fixture) alloc(pf format.PixelFormat, w, h int, protected bool) buffer.Handle {
	f.t.Helper()
	hd, err := f.mapper.Allocate(buffer.Info{Format: pf, Width: w, Height: h, Protected: protected})
	if err != nil {
		f.t.Fatalf("Allocate() error = %v", err)
	}
	return hd
}

func (f *fixture) video(w, h int, frame image.Rectangle) layer.Spec {
	return layer.Spec{Handle: f.alloc(format.NV12, w, h, false), Frame: frame, Alpha: 255}
}

func (f *fixture) ui(frame image.Rectangle) layer.Spec {
	return layer.Spec{
		Handle:   f.alloc(format.BGRA8888, frame.Dx(), frame.Dy(), false),
		Frame:    frame,
		Blending: format.BlendPremultiplied,
		Alpha:    255,
	}
}

func (f *fixture) prepare(frames ...Frame) []Result {
	f.t.Helper()
	res, err := f.dev.Prepare(frames)
	if err != nil {
		f.t.Fatalf("Prepare() error = %v", err)
	}
	return res
}

var panel = image.Rect(0, 0, 1920, 1080)

// =============================================================================
// Construction
// =============================================================================

func TestOpen_Errors(t *testing.T) {
	_, err := Open("nope", newRecordingHardware(), buffer.NewMemoryMapper())
	var nf *platform.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Open(nope) error = %v, want *platform.NotFoundError", err)
	}

	if _, err := New(nil, newRecordingHardware(), buffer.NewMemoryMapper()); err == nil {
		t.Error("New(nil) succeeded")
	}
	if _, err := Open("twin", nil, buffer.NewMemoryMapper()); !errors.Is(err, plane.ErrNoHardware) {
		t.Errorf("Open() with nil hardware error = %v, want ErrNoHardware", err)
	}
}

func TestDevice_Displays(t *testing.T) {
	f := newFixture(t, "twin")
	if n := len(f.dev.Displays()); n != 2 {
		t.Fatalf("Displays() = %d, want 2", n)
	}
	disp, ok := f.dev.Display(1)
	if !ok || disp.Name() != "hdmi" || disp.Screen() != image.Rect(0, 0, 1280, 720) {
		t.Errorf("Display(1) = %v %q %v", ok, disp.Name(), disp.Screen())
	}
	if _, ok := f.dev.Display(2); ok {
		t.Error("Display(2) should not exist")
	}
}

// =============================================================================
// Prepare and commit
// =============================================================================

func TestPrepare_AssignsAndCommits(t *testing.T) {
	f := newFixture(t, "twin")
	specs := []layer.Spec{f.video(1920, 1080, panel), f.ui(image.Rect(0, 0, 300, 200))}

	res := f.prepare(Frame{Output: 0, Layers: specs})
	if len(res) != 1 {
		t.Fatalf("Prepare() = %d results, want 1", len(res))
	}
	r := res[0]
	if !r.Rebuilt || r.Rounds != 1 || !r.TargetUsed {
		t.Errorf("result = rebuilt %v rounds %d target %v", r.Rebuilt, r.Rounds, r.TargetUsed)
	}
	if r.Decisions[0].Plane.Kind != plane.Overlay || r.Decisions[1].Plane.Kind != plane.Sprite {
		t.Errorf("decisions = %+v", r.Decisions)
	}
	if len(r.Updates) != 3 {
		t.Errorf("updates = %d, want 3", len(r.Updates))
	}

	if err := f.dev.Commit(res); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got := f.hw.commits[0]; len(got) != 3 {
		t.Errorf("hardware saw %d updates, want 3", len(got))
	}
}

func TestPrepare_ReusesListOnBufferFlip(t *testing.T) {
	f := newFixture(t, "twin")
	specs := []layer.Spec{f.video(1920, 1080, panel)}
	f.prepare(Frame{Output: 0, Layers: specs})

	next := []layer.Spec{specs[0]}
	next[0].Handle = f.alloc(format.NV12, 1920, 1080, false)
	if r := f.prepare(Frame{Output: 0, Layers: next})[0]; r.Rebuilt {
		t.Error("buffer flip rebuilt the list")
	}
	if r := f.prepare(Frame{Output: 0, Layers: next, GeometryChanged: true})[0]; !r.Rebuilt {
		t.Error("geometry change kept the list")
	}

	disp, _ := f.dev.Display(0)
	if st := disp.Stats(); st.Frames != 3 || st.Rebuilds != 2 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestPrepare_FrameErrors(t *testing.T) {
	f := newFixture(t, "twin")
	good := Frame{Output: 1, Layers: []layer.Spec{f.ui(image.Rect(0, 0, 100, 100))}}

	res, err := f.dev.Prepare([]Frame{good, {Output: 7}, {Output: 1}})
	if len(res) != 1 || res[0].Output != 1 {
		t.Errorf("results = %+v, want the valid frame only", res)
	}

	tests := []struct {
		name   string
		target error
	}{
		{"unknown output", ErrUnknownOutput},
		{"duplicate frame", ErrDuplicateFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(err, tt.target) {
				t.Errorf("Prepare() error = %v, want %v", err, tt.target)
			}
		})
	}
	var oe *OutputError
	if !errors.As(err, &oe) || oe.Output != 7 {
		t.Errorf("first OutputError = %+v", oe)
	}
}

func TestCommit_Error(t *testing.T) {
	f := newFixture(t, "solo")
	res := f.prepare(Frame{Output: 0})
	f.hw.failCommit = errors.New("commit: vblank timeout")

	err := f.dev.Commit(res)
	var oe *OutputError
	if !errors.As(err, &oe) || oe.Output != 0 {
		t.Errorf("Commit() error = %v, want *OutputError for output 0", err)
	}
}

func TestPrepare_RetiresReclaimedPlanes(t *testing.T) {
	f := newFixture(t, "twin")
	pool := f.dev.Pool()

	f.prepare(Frame{Output: 0, Layers: []layer.Spec{f.video(1920, 1080, panel)}})
	f.prepare(Frame{Output: 0, Layers: []layer.Spec{f.ui(image.Rect(0, 0, 64, 64))}})
	if s := pool.Stats(plane.Overlay); s.Reclaimed != 1 {
		t.Fatalf("after dropping the video: overlay %+v, want one reclaimed", s)
	}

	f.prepare(Frame{Output: 0, Layers: []layer.Spec{f.ui(image.Rect(0, 0, 64, 64))}})
	if s := pool.Stats(plane.Overlay); s.Reclaimed != 0 || s.Free != 2 {
		t.Errorf("next frame: overlay %+v, want both free", s)
	}
	if len(f.hw.disabled) == 0 {
		t.Error("retired planes were not disabled")
	}
}

func TestPrepare_ProtectedReservesOverlays(t *testing.T) {
	f := newFixture(t, "twin")
	specs := []layer.Spec{
		f.video(1920, 1080, panel),
		{Handle: f.alloc(format.NV12, 640, 360, true), Frame: image.Rect(0, 0, 640, 360), Alpha: 255},
	}

	r := f.prepare(Frame{Output: 0, Layers: specs})[0]

	if r.Decisions[0].Composition != layer.Framebuffer {
		t.Errorf("clear video = %v, want framebuffer", r.Decisions[0].Composition)
	}
	if r.Decisions[1].Plane.Kind != plane.Overlay || r.Decisions[1].Composition != layer.Hardware {
		t.Errorf("protected video = %+v, want an overlay", r.Decisions[1])
	}
}

// =============================================================================
// Events
// =============================================================================

func TestEvents_Hotplug(t *testing.T) {
	f := newFixture(t, "twin")
	ext := Frame{Output: 1, Layers: []layer.Spec{f.ui(image.Rect(0, 0, 100, 100))}}
	f.prepare(ext)

	f.dev.Post(policy.Hotplug{Output: 1, Connected: false})
	_, err := f.dev.Prepare([]Frame{ext})
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Prepare() error = %v, want ErrDisconnected", err)
	}
	disp, _ := f.dev.Display(1)
	if disp.Connected() || disp.List() != nil {
		t.Error("disconnected display kept its list")
	}

	f.dev.Post(policy.Hotplug{Output: 1, Connected: true, Width: 1024, Height: 768})
	f.prepare(ext)
	if disp.Screen() != image.Rect(0, 0, 1024, 768) {
		t.Errorf("Screen() = %v after hotplug", disp.Screen())
	}
}

func TestEvents_DisableOverlays(t *testing.T) {
	f := newFixture(t, "twin")
	specs := []layer.Spec{f.video(1920, 1080, panel)}
	f.prepare(Frame{Output: 0, Layers: specs})

	f.dev.Post(policy.DisableOverlays{})
	r := f.prepare(Frame{Output: 0, Layers: specs})[0]

	if r.Decisions[0].Composition != layer.Framebuffer {
		t.Errorf("video = %v, want framebuffer", r.Decisions[0].Composition)
	}
	if f.dev.Gates().OverlayAllowed {
		t.Error("overlays still allowed")
	}

	f.dev.Post(policy.SetGates{Gates: policy.DefaultGates()})
	if r := f.prepare(Frame{Output: 0, Layers: specs})[0]; r.Decisions[0].Plane.Kind != plane.Overlay {
		t.Errorf("video after re-enabling = %+v", r.Decisions[0])
	}
}

func TestEvents_ForceFramebuffer(t *testing.T) {
	f := newFixture(t, "twin")
	specs := []layer.Spec{f.ui(image.Rect(0, 0, 300, 200)), f.ui(image.Rect(400, 0, 600, 100))}
	f.prepare(Frame{Output: 0, Layers: specs})

	f.dev.Post(policy.ForceFramebuffer{Output: 0, Index: 1})
	r := f.prepare(Frame{Output: 0, Layers: specs})[0]

	if r.Decisions[1].Composition != layer.Framebuffer {
		t.Errorf("forced layer = %v, want framebuffer", r.Decisions[1].Composition)
	}
	if r.Decisions[0].Composition != layer.Hardware {
		t.Errorf("other layer = %v, want hardware", r.Decisions[0].Composition)
	}
}

func TestEvents_VsyncFromGoroutines(t *testing.T) {
	f := newFixture(t, "twin")
	now := time.Now()

	var wg sync.WaitGroup
	for out := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := range uint64(10) {
				f.dev.Post(policy.Vsync{Output: out, Sequence: seq + 1, Time: now})
			}
		}()
	}
	wg.Wait()
	f.prepare()

	for out := range 2 {
		disp, _ := f.dev.Display(out)
		if st := disp.Stats(); st.Vsync != 10 || !st.VsyncTime.Equal(now) {
			t.Errorf("output %d vsync = %d at %v", out, st.Vsync, st.VsyncTime)
		}
	}
}

// =============================================================================
// Options and composition
// =============================================================================

func TestWithDemotionHook(t *testing.T) {
	var got []layer.Demotion
	f := newFixture(t, "twin", WithDemotionHook(func(_ int, _ *layer.Layer, d layer.Demotion) {
		got = append(got, d)
	}))
	specs := []layer.Spec{f.ui(image.Rect(0, 0, 300, 200))}
	f.prepare(Frame{Output: 0, Layers: specs})

	f.dev.Post(policy.ForceFramebuffer{Output: 0, Index: 0})
	f.prepare(Frame{Output: 0, Layers: specs})

	if len(got) != 1 || got[0] != layer.DemotePolicy {
		t.Errorf("hook saw %v, want [policy]", got)
	}
}

func TestDisplay_Compose(t *testing.T) {
	f := newFixture(t, "solo")
	disp, _ := f.dev.Display(0)
	target := disp.NewTarget()

	if _, err := disp.Compose(target); !errors.Is(err, ErrNotPrepared) {
		t.Errorf("Compose() before Prepare error = %v, want ErrNotPrepared", err)
	}

	h := f.alloc(format.RGB565, 1280, 800, false)
	img, _ := f.mapper.Image(h)
	rgba := img.(*image.RGBA)
	for i := 0; i < len(rgba.Pix); i += 4 {
		rgba.Pix[i], rgba.Pix[i+3] = 255, 255
	}
	// RGB565 with a rotation fits no plane, so it is composed.
	f.prepare(Frame{Output: 0, Layers: []layer.Spec{{Handle: h, Frame: disp.Screen(), Alpha: 255, Transform: format.Rot180}}})

	st, err := disp.Compose(target)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if st.Drawn != 1 {
		t.Errorf("Compose() stats = %+v", st)
	}
	if got := target.Image().RGBAAt(10, 10); got != (color.RGBA{R: 255, A: 255}) {
		t.Errorf("pixel = %v, want red", got)
	}
}

// =============================================================================
// Close
// =============================================================================

func TestClose(t *testing.T) {
	f := newFixture(t, "twin")
	f.prepare(Frame{Output: 0, Layers: []layer.Spec{f.video(1920, 1080, panel)}})

	if err := f.dev.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := f.dev.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	for _, k := range plane.Kinds() {
		if s := f.dev.Pool().Stats(k); s.Free != s.Total {
			t.Errorf("%v after Close: %+v", k, s)
		}
	}
	if _, err := f.dev.Prepare(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Prepare() after Close error = %v, want ErrClosed", err)
	}
	if f.dev.Post(policy.DisableOverlays{}) {
		t.Error("Post() after Close reported success")
	}
}
