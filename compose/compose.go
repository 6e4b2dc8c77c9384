// Package compose renders the framebuffer target in software.
//
// Layers that did not get a hardware plane are drawn bottom to top into a
// [Target], which the primary plane then scans out. Crops are scaled into
// their frames with golang.org/x/image/draw; transforms are applied as
// affine maps. Protected and blanked layers are cleared, never sampled.
package compose

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/format"
	"github.com/gogpu/hwc/internal/logging"
	"github.com/gogpu/hwc/layer"
)

// Stats counts the work of one Compose call.
type Stats struct {
	Drawn   int
	Blanked int
	Skipped int
}

// Compositor draws framebuffer layers into a target.
type Compositor struct {
	mapper     buffer.Mapper
	interp     xdraw.Interpolator
	background color.Color
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithInterpolator selects the scaling filter. The default is
// xdraw.ApproxBiLinear.
func WithInterpolator(i xdraw.Interpolator) Option {
	return func(c *Compositor) {
		c.interp = i
	}
}

// WithBackground sets the color the target is cleared to before drawing.
func WithBackground(bg color.Color) Option {
	return func(c *Compositor) {
		c.background = bg
	}
}

// New creates a compositor that maps layer buffers through mapper.
func New(mapper buffer.Mapper, opts ...Option) *Compositor {
	c := &Compositor{
		mapper:     mapper,
		interp:     xdraw.ApproxBiLinear,
		background: color.Transparent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose clears t and draws layers into it, bottom first. Layers holding
// a plane are ignored. Layers without a CPU-visible buffer are skipped.
func (c *Compositor) Compose(t *Target, layers []*layer.Layer) Stats {
	var st Stats
	t.Clear(c.background)

	log := logging.Logger()
	for _, ly := range layers {
		switch {
		case ly.Composition() == layer.Hardware:
			continue
		case ly.Composition() == layer.Blank || ly.Protected():
			draw.Draw(t.img, ly.Frame().Intersect(t.Bounds()), image.Transparent, image.Point{}, draw.Src)
			st.Blanked++
			continue
		}

		img, ok := c.image(ly)
		if !ok {
			st.Skipped++
			continue
		}
		sr := ly.Crop().Intersect(img.Bounds())
		if sr.Empty() || ly.Frame().Empty() {
			st.Skipped++
			continue
		}
		c.draw(t.img, ly, img, sr)
		st.Drawn++
	}
	log.Debug("compose: frame", "drawn", st.Drawn, "blanked", st.Blanked, "skipped", st.Skipped)
	return st
}

func (c *Compositor) image(ly *layer.Layer) (image.Image, bool) {
	if ly.Handle() == 0 {
		return nil, false
	}
	buf, err := c.mapper.Map(ly.Handle())
	if err != nil {
		logging.Logger().Debug("compose: map failed", "layer", ly.Index(), "err", err)
		return nil, false
	}
	ib, ok := buf.(buffer.ImageBuffer)
	if !ok {
		logging.Logger().Debug("compose: buffer has no pixels", "layer", ly.Index(), "handle", ly.Handle())
		return nil, false
	}
	return ib.Image(), true
}

func (c *Compositor) draw(dst *image.RGBA, ly *layer.Layer, src image.Image, sr image.Rectangle) {
	op := xdraw.Over
	if ly.Blending() == format.BlendNone {
		op = xdraw.Src
	}
	var opts *xdraw.Options
	if ly.Alpha() < 255 && ly.Blending() != format.BlendNone {
		opts = &xdraw.Options{DstMask: image.NewUniform(color.Alpha{A: ly.Alpha()})}
	}

	if ly.Transform() == format.Identity {
		c.interp.Scale(dst, ly.Frame(), src, sr, op, opts)
		return
	}
	c.interp.Transform(dst, affine(sr, ly.Frame(), ly.Transform()), src, sr, op, opts)
}

// affine returns the source to destination map that fits sr into dr after
// applying tr. Flips come first, then the clockwise quarter turn.
func affine(sr, dr image.Rectangle, tr format.Transform) f64.Aff3 {
	// u' = a*u + b*v + c and v' = d*u + e*v + f over the unit square.
	a, b, cc := 1.0, 0.0, 0.0
	d, e, f := 0.0, 1.0, 0.0
	if tr&format.FlipH != 0 {
		a, b, cc = -a, -b, 1-cc
	}
	if tr&format.FlipV != 0 {
		d, e, f = -d, -e, 1-f
	}
	if tr&format.Rot90 != 0 {
		a, b, cc, d, e, f = -d, -e, 1-f, a, b, cc
	}

	sx, sy := float64(sr.Min.X), float64(sr.Min.Y)
	sw, sh := float64(sr.Dx()), float64(sr.Dy())
	dx, dy := float64(dr.Min.X), float64(dr.Min.Y)
	dw, dh := float64(dr.Dx()), float64(dr.Dy())

	return f64.Aff3{
		dw * a / sw, dw * b / sh, dx + dw*(cc-a*sx/sw-b*sy/sh),
		dh * d / sw, dh * e / sh, dy + dh*(f-d*sx/sw-e*sy/sh),
	}
}
