// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package compose

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/hwc/format"
)

// Target is the framebuffer target surface. Pixels are kept as *image.RGBA;
// Format reports the layout the host surface expects, and Bytes converts to
// it.
//
// Example:
//
//	target := compose.NewTarget(1920, 1080, provider)
//	c.Compose(target, display.Framebuffer())
//	upload(target.Bytes())
type Target struct {
	img    *image.RGBA
	format gputypes.TextureFormat
}

// NewTarget creates a cleared target. The format follows the surface of
// provider; a nil provider, or a surface format no plane can scan out,
// selects RGBA8.
func NewTarget(width, height int, provider gpucontext.DeviceProvider) *Target {
	return NewTargetFromImage(image.NewRGBA(image.Rect(0, 0, width, height)), provider)
}

// NewTargetFromImage wraps img without copying it.
func NewTargetFromImage(img *image.RGBA, provider gpucontext.DeviceProvider) *Target {
	return &Target{img: img, format: surfaceFormat(provider)}
}

func surfaceFormat(provider gpucontext.DeviceProvider) gputypes.TextureFormat {
	if provider == nil {
		return gputypes.TextureFormatRGBA8Unorm
	}
	tf := provider.SurfaceFormat()
	if format.FromTextureFormat(tf) == format.Unknown {
		return gputypes.TextureFormatRGBA8Unorm
	}
	return tf
}

func (t *Target) Width() int                     { return t.img.Bounds().Dx() }
func (t *Target) Height() int                    { return t.img.Bounds().Dy() }
func (t *Target) Bounds() image.Rectangle        { return t.img.Bounds() }
func (t *Target) Format() gputypes.TextureFormat { return t.format }

// PixelFormat returns Format as a plane pixel format.
func (t *Target) PixelFormat() format.PixelFormat { return format.FromTextureFormat(t.format) }

// Image returns the backing image. It shares memory with the target.
func (t *Target) Image() *image.RGBA { return t.img }

// Clear fills the target with c.
func (t *Target) Clear(c color.Color) {
	draw.Draw(t.img, t.img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// Bytes returns the pixels in Format. For RGBA8 it is the backing slice
// itself; other formats get a converted copy.
func (t *Target) Bytes() []byte {
	if t.format != gputypes.TextureFormatBGRA8Unorm {
		return t.img.Pix
	}
	out := make([]byte, len(t.img.Pix))
	for i := 0; i+3 < len(out); i += 4 {
		out[i+0] = t.img.Pix[i+2]
		out[i+1] = t.img.Pix[i+1]
		out[i+2] = t.img.Pix[i+0]
		out[i+3] = t.img.Pix[i+3]
	}
	return out
}
