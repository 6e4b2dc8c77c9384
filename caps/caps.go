// Package caps evaluates whether a plane kind can present a layer.
//
// A plane kind is described by [Limits]; a layer by a [Query]. Check runs
// four independent predicates (format, transform, blending and scaling)
// plus the full-screen rule of primary planes, and returns the set of
// predicates that failed.
package caps

import (
	"image"
	"strings"

	"github.com/gogpu/hwc/format"
)

// Query is the part of a layer the predicates look at.
type Query struct {
	Format    format.PixelFormat
	Transform format.Transform
	Blending  format.Blending

	// Alpha is the layer's plane alpha, 255 for fully opaque.
	Alpha uint8

	// Src is the crop in buffer coordinates, Dst the frame on the output.
	Src image.Rectangle
	Dst image.Rectangle

	// Screen is the output rectangle.
	Screen image.Rectangle
}

// Reason is the set of predicates a query failed. The zero Reason means
// the plane kind can present the layer.
type Reason uint8

const (
	// ReasonFormat: the pixel format is not supported.
	ReasonFormat Reason = 1 << iota
	// ReasonTransform: the transform is not supported.
	ReasonTransform
	// ReasonBlending: the blending mode or plane alpha is not supported.
	ReasonBlending
	// ReasonScaling: the crop and frame sizes need scaling the plane lacks,
	// or exceed its source and destination limits.
	ReasonScaling
	// ReasonFullScreen: the plane needs a frame covering the whole output.
	ReasonFullScreen

	// ReasonNoPlane is reported when the output has no plane of the kind.
	ReasonNoPlane
)

var reasonNames = []string{"format", "transform", "blending", "scaling", "fullscreen", "noplane"}

// OK reports whether no predicate failed.
func (r Reason) OK() bool { return r == 0 }

// String joins the failed predicates with '|', or returns "ok".
func (r Reason) String() string {
	if r == 0 {
		return "ok"
	}
	var parts []string
	for i, name := range reasonNames {
		if r&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Limits are the capabilities of one plane kind on one output.
type Limits struct {
	Formats    format.Set
	Transforms format.TransformSet
	Blendings  format.BlendingSet

	// ConstantAlphaOnly restricts premultiplied blending to layers whose
	// plane alpha is 0 or 255; the hardware cannot multiply per layer.
	ConstantAlphaOnly bool

	// Scaling allows the source and destination sizes to differ. Without
	// it the transformed source must match the destination exactly.
	Scaling bool

	// MaxSrcWidth and MaxSrcHeight bound the crop when non-zero.
	MaxSrcWidth  int
	MaxSrcHeight int

	// MinDstSize is the smallest destination width and height accepted
	// when scaling.
	MinDstSize int

	// FullScreen requires the destination to cover the whole output.
	FullScreen bool
}

// Check returns the predicates q fails against l.
func (l Limits) Check(q Query) Reason {
	var r Reason
	if !l.Formats.Has(q.Format) {
		r |= ReasonFormat
	}
	if !l.Transforms.Has(q.Transform) {
		r |= ReasonTransform
	}
	if !l.blendingOK(q) {
		r |= ReasonBlending
	}
	if !l.scalingOK(q) {
		r |= ReasonScaling
	}
	if l.FullScreen && !q.Dst.Eq(q.Screen) {
		r |= ReasonFullScreen
	}
	return r
}

func (l Limits) blendingOK(q Query) bool {
	if !l.Blendings.Has(q.Blending) {
		return false
	}
	if l.ConstantAlphaOnly && q.Blending != format.BlendNone {
		return q.Alpha == 0 || q.Alpha == 255
	}
	return true
}

func (l Limits) scalingOK(q Query) bool {
	if q.Src.Empty() || q.Dst.Empty() {
		return false
	}
	sw, sh := q.Src.Dx(), q.Src.Dy()
	if q.Transform.SwapsAxes() {
		sw, sh = sh, sw
	}
	dw, dh := q.Dst.Dx(), q.Dst.Dy()

	if !l.Scaling {
		return sw == dw && sh == dh
	}
	if l.MaxSrcWidth > 0 && q.Src.Dx() > l.MaxSrcWidth {
		return false
	}
	if l.MaxSrcHeight > 0 && q.Src.Dy() > l.MaxSrcHeight {
		return false
	}
	return dw >= l.MinDstSize && dh >= l.MinDstSize
}
