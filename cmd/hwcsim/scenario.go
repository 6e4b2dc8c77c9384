package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/format"
	"github.com/gogpu/hwc/layer"
	"github.com/gogpu/hwc/policy"
)

// scenario is the JSON input of the simulator.
//
//	{
//	  "platform": "twin",
//	  "steps": [
//	    {"repeat": 3, "outputs": [{"output": 0, "layers": [...]}]},
//	    {"events": [{"type": "disableOverlays"}], "outputs": [...]}
//	  ]
//	}
type scenario struct {
	Platform string `json:"platform"`
	Steps    []step `json:"steps"`
}

// step is one or more identical frames. Events are posted before the
// first of them.
type step struct {
	Repeat  int          `json:"repeat,omitempty"`
	Events  []eventDesc  `json:"events,omitempty"`
	Outputs []outputDesc `json:"outputs"`
}

type outputDesc struct {
	Output          int         `json:"output"`
	GeometryChanged bool        `json:"geometryChanged,omitempty"`
	Layers          []layerDesc `json:"layers"`
}

type layerDesc struct {
	// Name identifies the layer's buffers across frames.
	Name      string `json:"name"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Crop      []int  `json:"crop,omitempty"`
	Frame     []int  `json:"frame"`
	Transform string `json:"transform,omitempty"`
	Blending  string `json:"blending,omitempty"`
	Alpha     *uint8 `json:"alpha,omitempty"`
	Color     string `json:"color,omitempty"`
	Protected bool   `json:"protected,omitempty"`
	Skip      bool   `json:"skip,omitempty"`

	// Flip alternates between two buffers, as a double-buffered client.
	Flip bool `json:"flip,omitempty"`

	// NotReady marks the buffer as not yet presentable.
	NotReady bool `json:"notReady,omitempty"`
}

type eventDesc struct {
	Type      string `json:"type"`
	Output    int    `json:"output,omitempty"`
	Connected bool   `json:"connected,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Index     int    `json:"index,omitempty"`
	Overlay   bool   `json:"overlay,omitempty"`
	Extended  bool   `json:"extended,omitempty"`
}

func loadScenario(path string) (*scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeScenario(f)
}

func decodeScenario(r io.Reader) (*scenario, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var sc scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("hwcsim: scenario: %w", err)
	}
	if sc.Platform == "" {
		return nil, errors.New("hwcsim: scenario: no platform")
	}
	if len(sc.Steps) == 0 {
		return nil, errors.New("hwcsim: scenario: no steps")
	}
	return &sc, nil
}

func (e eventDesc) event() (policy.Event, error) {
	switch strings.ToLower(e.Type) {
	case "hotplug":
		return policy.Hotplug{Output: e.Output, Connected: e.Connected, Width: e.Width, Height: e.Height}, nil
	case "gates":
		return policy.SetGates{Gates: policy.Gates{OverlayAllowed: e.Overlay, ExtendedMode: e.Extended}}, nil
	case "disableoverlays":
		return policy.DisableOverlays{}, nil
	case "force":
		return policy.ForceFramebuffer{Output: e.Output, Index: e.Index}, nil
	default:
		return nil, fmt.Errorf("hwcsim: unknown event type %q", e.Type)
	}
}

// buffers allocates and fills the client buffers of a scenario.
type buffers struct {
	mapper *buffer.MemoryMapper
	byName map[string]*clientBuffer
}

type clientBuffer struct {
	info    buffer.Info
	handles [2]buffer.Handle
	n       int
}

func newBuffers(m *buffer.MemoryMapper) *buffers {
	return &buffers{mapper: m, byName: make(map[string]*clientBuffer)}
}

// frame builds the hwc frame of one output, allocating buffers on first
// use and flipping double-buffered layers.
func (b *buffers) frame(o outputDesc) (hwc.Frame, error) {
	f := hwc.Frame{Output: o.Output, GeometryChanged: o.GeometryChanged}
	for i, ld := range o.Layers {
		s, err := b.spec(ld)
		if err != nil {
			return hwc.Frame{}, fmt.Errorf("hwcsim: output %d layer %d (%s): %w", o.Output, i, ld.Name, err)
		}
		f.Layers = append(f.Layers, s)
	}
	return f, nil
}

func (b *buffers) spec(ld layerDesc) (layer.Spec, error) {
	pf, err := format.ParsePixelFormat(ld.Format)
	if err != nil {
		return layer.Spec{}, err
	}
	tr, err := format.ParseTransform(ld.Transform)
	if err != nil {
		return layer.Spec{}, err
	}
	bl, err := format.ParseBlending(ld.Blending)
	if err != nil {
		return layer.Spec{}, err
	}
	frame, err := rect(ld.Frame)
	if err != nil {
		return layer.Spec{}, fmt.Errorf("frame: %w", err)
	}
	var crop image.Rectangle
	if ld.Crop != nil {
		if crop, err = rect(ld.Crop); err != nil {
			return layer.Spec{}, fmt.Errorf("crop: %w", err)
		}
	}
	fill, err := parseColor(ld.Color)
	if err != nil {
		return layer.Spec{}, err
	}

	info := buffer.Info{Format: pf, Width: ld.Width, Height: ld.Height, Protected: ld.Protected}
	h, err := b.handle(ld, info, fill)
	if err != nil {
		return layer.Spec{}, err
	}
	b.mapper.SetReady(h, !ld.NotReady)

	alpha := uint8(255)
	if ld.Alpha != nil {
		alpha = *ld.Alpha
	}
	return layer.Spec{
		Handle:    h,
		Crop:      crop,
		Frame:     frame,
		Transform: tr,
		Blending:  bl,
		Alpha:     alpha,
		Skip:      ld.Skip,
	}, nil
}

func (b *buffers) handle(ld layerDesc, info buffer.Info, fill color.Color) (buffer.Handle, error) {
	cb, ok := b.byName[ld.Name]
	if !ok || cb.info != info {
		cb = &clientBuffer{info: info}
		b.byName[ld.Name] = cb
	}
	cb.n++
	slot := 0
	if ld.Flip {
		slot = cb.n % 2
	}
	if cb.handles[slot] == 0 {
		h, err := b.mapper.Allocate(info)
		if err != nil {
			return 0, err
		}
		if img, ok := b.mapper.Image(h); ok {
			paint(img, fill)
		}
		cb.handles[slot] = h
	}
	return cb.handles[slot], nil
}

// paint fills img with c.
func paint(img image.Image, c color.Color) {
	switch m := img.(type) {
	case *image.RGBA:
		draw.Draw(m, m.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	case *image.YCbCr:
		r, g, bl, _ := c.RGBA()
		y, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		for i := range m.Y {
			m.Y[i] = y
		}
		for i := range m.Cb {
			m.Cb[i] = cb
			m.Cr[i] = cr
		}
	}
}

func rect(v []int) (image.Rectangle, error) {
	if len(v) != 4 {
		return image.Rectangle{}, fmt.Errorf("want [x0, y0, x1, y1], got %v", v)
	}
	return image.Rect(v[0], v[1], v[2], v[3]), nil
}

// parseColor parses #rrggbb or #rrggbbaa. The empty string is opaque grey.
func parseColor(s string) (color.Color, error) {
	if s == "" {
		return color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return nil, fmt.Errorf("bad color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("bad color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
