// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package layer

import (
	"fmt"
	"image"

	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/caps"
	"github.com/gogpu/hwc/format"
	"github.com/gogpu/hwc/plane"
)

// Spec is one layer as submitted by the windowing system.
type Spec struct {
	Handle buffer.Handle

	// Crop is the source rectangle in buffer coordinates. An empty crop
	// selects the whole buffer.
	Crop image.Rectangle

	// Frame is the destination rectangle on the output.
	Frame image.Rectangle

	Transform format.Transform
	Blending  format.Blending

	// Alpha is the plane alpha; 255 is opaque.
	Alpha uint8

	// Skip routes the layer to the framebuffer unconditionally.
	Skip bool
}

// sameGeometry reports whether s and o differ at most in their handle.
func (s Spec) sameGeometry(o Spec) bool {
	return s.Crop == o.Crop &&
		s.Frame == o.Frame &&
		s.Transform == o.Transform &&
		s.Blending == o.Blending &&
		s.Alpha == o.Alpha &&
		s.Skip == o.Skip
}

// Composition is how a layer reaches the screen.
type Composition uint8

const (
	// Framebuffer composes the layer into the framebuffer target.
	Framebuffer Composition = iota

	// Hardware presents the layer on its own plane.
	Hardware

	// Blank clears the layer's frame in the framebuffer. Protected layers
	// without a plane are blanked since they must never be composed.
	Blank
)

func (c Composition) String() string {
	switch c {
	case Framebuffer:
		return "framebuffer"
	case Hardware:
		return "hardware"
	case Blank:
		return "blank"
	default:
		return fmt.Sprintf("Composition(%d)", uint8(c))
	}
}

// Priority bits above the crop area.
const (
	maxAreaPriority  = 1<<29 - 1
	overlayPriority  = 1 << 29
	protectPriority  = 1 << 30
	targetIndex      = -1
	notReadyWarnings = 3
)

// Layer is one entry of a [List].
type Layer struct {
	index    int
	spec     Spec
	info     buffer.Info
	valid    bool
	target   bool
	priority uint32

	comp     Composition
	plane    *plane.Plane
	demoted  bool
	forced   bool
	stale    bool
	notReady int
}

func newLayer(index int, spec Spec, mapper buffer.Mapper) *Layer {
	ly := &Layer{index: index, spec: spec}
	if spec.Handle != 0 {
		info, err := mapper.Describe(spec.Handle)
		ly.info, ly.valid = info, err == nil
	}
	if ly.spec.Crop.Empty() {
		ly.spec.Crop = ly.info.Bounds()
	}
	ly.priority = priorityOf(ly.spec.Crop, ly.info)
	return ly
}

func newTarget(screen image.Rectangle, h buffer.Handle) *Layer {
	return &Layer{
		index:  targetIndex,
		target: true,
		valid:  true,
		spec: Spec{
			Handle:   h,
			Crop:     screen.Sub(screen.Min),
			Frame:    screen,
			Blending: format.BlendNone,
			Alpha:    255,
		},
		info: buffer.Info{Format: format.RGBA8888, Width: screen.Dx(), Height: screen.Dy()},
	}
}

// priorityOf ranks competing claims: protected layers first, then video
// eligible layers, then by crop area.
func priorityOf(crop image.Rectangle, info buffer.Info) uint32 {
	area := crop.Dx() * crop.Dy()
	p := uint32(min(max(area, 0), maxAreaPriority))
	if info.Format.IsYUV() {
		p |= overlayPriority
	}
	if info.Protected {
		p |= protectPriority
	}
	return p
}

// Index is the submission index, 0 at the bottom. The framebuffer target
// has index -1.
func (l *Layer) Index() int { return l.index }

// ZOrder is the composition order: 0 for the framebuffer target and
// Index()+1 for submitted layers.
func (l *Layer) ZOrder() int { return l.index + 1 }

func (l *Layer) Handle() buffer.Handle       { return l.spec.Handle }
func (l *Layer) Info() buffer.Info           { return l.info }
func (l *Layer) Crop() image.Rectangle       { return l.spec.Crop }
func (l *Layer) Frame() image.Rectangle      { return l.spec.Frame }
func (l *Layer) Transform() format.Transform { return l.spec.Transform }
func (l *Layer) Blending() format.Blending   { return l.spec.Blending }
func (l *Layer) Alpha() uint8                { return l.spec.Alpha }
func (l *Layer) Skip() bool                  { return l.spec.Skip }
func (l *Layer) Protected() bool             { return l.info.Protected }
func (l *Layer) Target() bool                { return l.target }
func (l *Layer) Priority() uint32            { return l.priority }
func (l *Layer) Composition() Composition    { return l.comp }

// Plane returns the plane held by the layer, or nil.
func (l *Layer) Plane() *plane.Plane { return l.plane }

// Demoted reports whether the layer lost its plane while this list was live.
func (l *Layer) Demoted() bool { return l.demoted }

// Forced reports whether policy pinned the layer to the framebuffer.
func (l *Layer) Forced() bool { return l.forced }

// Stale reports whether the layer's plane kept showing an older buffer
// because the current one was rejected.
func (l *Layer) Stale() bool { return l.stale }

// eligible reports whether capability matching may consider the layer.
func (l *Layer) eligible() bool {
	return !l.target && l.valid && !l.spec.Skip && !l.forced
}

func (l *Layer) query(screen image.Rectangle) caps.Query {
	return caps.Query{
		Format:    l.info.Format,
		Transform: l.spec.Transform,
		Blending:  l.spec.Blending,
		Alpha:     l.spec.Alpha,
		Src:       l.spec.Crop,
		Dst:       l.spec.Frame,
		Screen:    screen,
	}
}

func (l *Layer) geometry() plane.Geometry {
	return plane.Geometry{Src: l.spec.Crop, Dst: l.spec.Frame, Transform: l.spec.Transform}
}

// attach makes pl the layer's plane.
func (l *Layer) attach(pl *plane.Plane) {
	l.plane = pl
	l.comp = Hardware
	pl.SetGeometry(l.geometry())
}

// detach forgets the layer's plane and routes it back to the framebuffer.
func (l *Layer) detach() *plane.Plane {
	pl := l.plane
	l.plane = nil
	l.stale = false
	switch {
	case l.target:
		l.comp = Framebuffer
	case l.info.Protected:
		l.comp = Blank
	default:
		l.comp = Framebuffer
	}
	return pl
}

func (l *Layer) holds(k plane.Kind) bool {
	return l.plane != nil && l.plane.Kind() == k
}

func (l *Layer) String() string {
	if l.target {
		return "target"
	}
	return fmt.Sprintf("layer %d", l.index)
}
