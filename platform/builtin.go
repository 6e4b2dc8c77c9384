package platform

import (
	"github.com/gogpu/hwc/caps"
	"github.com/gogpu/hwc/format"
	"github.com/gogpu/hwc/internal/slotmask"
	"github.com/gogpu/hwc/plane"
	"github.com/gogpu/hwc/zorder"
)

func init() {
	Register(Twin())
	Register(Solo())
}

var (
	rgbFormats = format.SetOf(format.RGB565, format.BGRA8888, format.BGRX8888, format.RGBA8888, format.RGBX8888)
	yuvFormats = format.SetOf(format.NV12, format.NV21, format.YV12, format.I420, format.YUY2)
)

func spriteLimits() caps.Limits {
	return caps.Limits{
		Formats:           rgbFormats,
		Transforms:        format.TransformsOf(format.Identity),
		Blendings:         format.BlendingsOf(format.BlendNone, format.BlendPremultiplied),
		ConstantAlphaOnly: true,
	}
}

func overlayLimits(maxW, maxH int) caps.Limits {
	return caps.Limits{
		Formats:      yuvFormats,
		Transforms:   format.TransformsOf(format.Identity, format.Rot90, format.Rot180, format.Rot270),
		Blendings:    format.BlendingsOf(format.BlendNone),
		Scaling:      true,
		MaxSrcWidth:  maxW,
		MaxSrcHeight: maxH,
		MinDstSize:   2,
	}
}

// primaryLimits accept a single opaque full-screen RGB layer, the content
// the framebuffer target would have shown on its own.
func primaryLimits() caps.Limits {
	return caps.Limits{
		Formats:    rgbFormats,
		Transforms: format.TransformsOf(format.Identity),
		Blendings:  format.BlendingsOf(format.BlendNone),
		FullScreen: true,
	}
}

// Letters shared by the built-in tables: A is the output's primary plane,
// B and C the sprites, D and E the overlays.
func letters(primarySlot int, sprites int) map[byte]plane.ID {
	m := map[byte]plane.ID{
		'A': {Kind: plane.Primary, Slot: primarySlot},
		'D': {Kind: plane.Overlay, Slot: 0},
		'E': {Kind: plane.Overlay, Slot: 1},
	}
	for i := range sprites {
		m['B'+byte(i)] = plane.ID{Kind: plane.Sprite, Slot: i}
	}
	return m
}

// Twin is a two-output controller. The panel (output 0) has two sprites,
// the external output one; both outputs share two overlays. Video planes
// stack only at the bottom or the top of an output's stack.
func Twin() *Platform {
	both := slotmask.Of(0, 1)
	return &Platform{
		Name: "twin",
		Planes: plane.Layout{
			Sprites:   []slotmask.Mask{both, slotmask.Of(0)},
			Overlays:  []slotmask.Mask{both, both},
			Primaries: []slotmask.Mask{slotmask.Of(0), slotmask.Of(1)},
		},
		Outputs: []Output{
			{
				Name:    "panel",
				Width:   1920,
				Height:  1080,
				Sprite:  spriteLimits(),
				Overlay: overlayLimits(1920, 1080),
				Primary: primaryLimits(),
				Table:   &zorder.Table{Letters: letters(0, 2), Sequences: twinPanel()},
			},
			{
				Name:    "hdmi",
				Width:   1280,
				Height:  720,
				Sprite:  spriteLimits(),
				Overlay: overlayLimits(1280, 720),
				Primary: primaryLimits(),
				Table:   &zorder.Table{Letters: letters(1, 1), Sequences: twinExternal()},
			},
		},
	}
}

func twinPanel() map[zorder.Key][]zorder.Sequence {
	return map[zorder.Key][]zorder.Sequence{
		{Count: 1}: {"A"},
		{Count: 2}: {"AB", "AC", "BA", "CA"},
		{Count: 3}: {"ABC", "ACB", "BAC", "CAB", "BCA", "CBA"},

		{Count: 2, VideoMask: 0b01}: {"DA", "EA"},
		{Count: 2, VideoMask: 0b10}: {"AD", "AE"},

		{Count: 3, VideoMask: 0b001}: {"DAB", "DAC", "DBA", "DCA", "EAB", "EAC"},
		{Count: 3, VideoMask: 0b100}: {"ABD", "ACD", "BAD", "ABE", "ACE"},
		{Count: 3, VideoMask: 0b011}: {"DEA", "EDA"},
		{Count: 3, VideoMask: 0b101}: {"DAE", "EAD"},
		{Count: 3, VideoMask: 0b110}: {"ADE", "AED"},

		{Count: 4, VideoMask: 0b0001}: {"DABC", "DACB", "DBAC", "EABC"},
		{Count: 4, VideoMask: 0b1000}: {"ABCD", "ACBD", "BACD", "ABCE"},
		{Count: 4, VideoMask: 0b0011}: {"DEAB", "DEAC", "EDAB"},
		{Count: 4, VideoMask: 0b1100}: {"ABDE", "ACDE"},
		{Count: 4, VideoMask: 0b1001}: {"DABE", "DACE", "EABD"},

		{Count: 5, VideoMask: 0b00011}: {"DEABC"},
		{Count: 5, VideoMask: 0b11000}: {"ABCDE"},
		{Count: 5, VideoMask: 0b10001}: {"DABCE"},
	}
}

func twinExternal() map[zorder.Key][]zorder.Sequence {
	return map[zorder.Key][]zorder.Sequence{
		{Count: 1}: {"A"},
		{Count: 2}: {"AB", "BA"},

		{Count: 2, VideoMask: 0b01}: {"DA", "EA"},
		{Count: 2, VideoMask: 0b10}: {"AD", "AE"},

		{Count: 3, VideoMask: 0b001}: {"DAB", "DBA", "EAB"},
		{Count: 3, VideoMask: 0b100}: {"ABD", "BAD", "ABE"},
		{Count: 3, VideoMask: 0b011}: {"DEA"},
		{Count: 3, VideoMask: 0b101}: {"DAE"},
		{Count: 3, VideoMask: 0b110}: {"ADE"},
	}
}

// Solo is a single-output controller with one plane of each kind.
func Solo() *Platform {
	one := slotmask.Of(0)
	return &Platform{
		Name: "solo",
		Planes: plane.Layout{
			Sprites:   []slotmask.Mask{one},
			Overlays:  []slotmask.Mask{one},
			Primaries: []slotmask.Mask{one},
		},
		Outputs: []Output{{
			Name:    "panel",
			Width:   1280,
			Height:  800,
			Sprite:  spriteLimits(),
			Overlay: overlayLimits(1920, 1080),
			Primary: primaryLimits(),
			Table: &zorder.Table{
				Letters: map[byte]plane.ID{
					'A': {Kind: plane.Primary, Slot: 0},
					'B': {Kind: plane.Sprite, Slot: 0},
					'D': {Kind: plane.Overlay, Slot: 0},
				},
				Sequences: map[zorder.Key][]zorder.Sequence{
					{Count: 1}:                   {"A"},
					{Count: 2}:                   {"AB", "BA"},
					{Count: 2, VideoMask: 0b01}:  {"DA"},
					{Count: 2, VideoMask: 0b10}:  {"AD"},
					{Count: 3, VideoMask: 0b001}: {"DAB", "DBA"},
					{Count: 3, VideoMask: 0b100}: {"ABD", "BAD"},
				},
			},
		}},
	}
}
