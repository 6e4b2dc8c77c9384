// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package format defines the presentation attributes of a layer buffer:
// pixel format, transform and blending mode.
//
// These are the attributes plane capability checks are expressed in. Packed
// RGB formats map onto [gputypes.TextureFormat] so that the framebuffer
// target can be shared with a GPU compositor.
package format

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

// PixelFormat identifies the memory layout of a buffer.
type PixelFormat uint8

// Pixel formats.
const (
	// Unknown is the zero value; no plane accepts it.
	Unknown PixelFormat = iota

	// RGB565 is 16-bit packed RGB without alpha.
	RGB565

	// BGRA8888 is 32-bit packed BGRA with alpha.
	BGRA8888

	// BGRX8888 is 32-bit packed BGR with an ignored fourth byte.
	BGRX8888

	// RGBA8888 is 32-bit packed RGBA with alpha.
	RGBA8888

	// RGBX8888 is 32-bit packed RGB with an ignored fourth byte.
	RGBX8888

	// NV12 is semi-planar YUV 4:2:0 with an interleaved CbCr plane.
	NV12

	// NV21 is semi-planar YUV 4:2:0 with an interleaved CrCb plane.
	NV21

	// YV12 is planar YUV 4:2:0 with the Cr plane before Cb.
	YV12

	// I420 is planar YUV 4:2:0 with the Cb plane before Cr.
	I420

	// YUY2 is packed YUV 4:2:2.
	YUY2

	numFormats
)

var formatNames = [numFormats]string{
	Unknown:  "Unknown",
	RGB565:   "RGB565",
	BGRA8888: "BGRA8888",
	BGRX8888: "BGRX8888",
	RGBA8888: "RGBA8888",
	RGBX8888: "RGBX8888",
	NV12:     "NV12",
	NV21:     "NV21",
	YV12:     "YV12",
	I420:     "I420",
	YUY2:     "YUY2",
}

// String returns the conventional name of the format.
func (f PixelFormat) String() string {
	if f >= numFormats {
		return fmt.Sprintf("PixelFormat(%d)", uint8(f))
	}
	return formatNames[f]
}

// Valid reports whether f is a known, non-zero format.
func (f PixelFormat) Valid() bool {
	return f > Unknown && f < numFormats
}

// IsRGB reports whether f is a packed RGB format.
func (f PixelFormat) IsRGB() bool {
	switch f {
	case RGB565, BGRA8888, BGRX8888, RGBA8888, RGBX8888:
		return true
	}
	return false
}

// IsYUV reports whether f is any YUV format.
func (f PixelFormat) IsYUV() bool {
	switch f {
	case NV12, NV21, YV12, I420, YUY2:
		return true
	}
	return false
}

// IsPlanar reports whether f stores Y, Cb and Cr in three planes.
func (f PixelFormat) IsPlanar() bool {
	return f == YV12 || f == I420
}

// IsSemiPlanar reports whether f stores Y in one plane and interleaved
// chroma in a second.
func (f PixelFormat) IsSemiPlanar() bool {
	return f == NV12 || f == NV21
}

// HasAlpha reports whether f carries a meaningful alpha channel.
func (f PixelFormat) HasAlpha() bool {
	return f == BGRA8888 || f == RGBA8888
}

// BytesPerPixel returns the size of one pixel of the first plane.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case BGRA8888, BGRX8888, RGBA8888, RGBX8888:
		return 4
	case RGB565, YUY2:
		return 2
	case NV12, NV21, YV12, I420:
		return 1
	default:
		return 0
	}
}

// TextureFormat returns the GPU texture format with the same layout, or
// [gputypes.TextureFormatUndefined] when the GPU has no equivalent.
// Formats without alpha map onto their alpha-carrying sibling.
func (f PixelFormat) TextureFormat() gputypes.TextureFormat {
	switch f {
	case RGBA8888, RGBX8888:
		return gputypes.TextureFormatRGBA8Unorm
	case BGRA8888, BGRX8888:
		return gputypes.TextureFormatBGRA8Unorm
	default:
		return gputypes.TextureFormatUndefined
	}
}

// FromTextureFormat returns the pixel format matching a GPU texture format.
// It returns Unknown for texture formats a plane cannot scan out.
func FromTextureFormat(tf gputypes.TextureFormat) PixelFormat {
	switch tf {
	case gputypes.TextureFormatRGBA8Unorm:
		return RGBA8888
	case gputypes.TextureFormatBGRA8Unorm:
		return BGRA8888
	default:
		return Unknown
	}
}

// ParsePixelFormat parses a format name as returned by String.
// Matching is case-insensitive.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for f := Unknown + 1; f < numFormats; f++ {
		if strings.EqualFold(s, formatNames[f]) {
			return f, nil
		}
	}
	return Unknown, fmt.Errorf("format: unknown pixel format %q", s)
}

// Set is a set of pixel formats.
type Set uint32

// SetOf returns a set containing formats.
func SetOf(formats ...PixelFormat) Set {
	var s Set
	for _, f := range formats {
		s |= 1 << f
	}
	return s
}

// Has reports whether f is in s.
func (s Set) Has(f PixelFormat) bool {
	return f < numFormats && s&(1<<f) != 0
}
