// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package platform describes the plane hardware of a display controller
// generation as data: the physical planes and the outputs they can drive,
// the capability limits of every plane kind per output, and the z-order
// table of every output.
//
// Platforms are selected by name from a registry. The built-in "twin" and
// "solo" platforms register themselves at init time.
package platform

import (
	"fmt"

	"github.com/gogpu/hwc/caps"
	"github.com/gogpu/hwc/internal/slotmask"
	"github.com/gogpu/hwc/plane"
	"github.com/gogpu/hwc/zorder"
)

// Output describes one display output of a platform.
type Output struct {
	// Name identifies the output in logs, e.g. "panel" or "hdmi".
	Name string

	// Width and Height are the default mode.
	Width  int
	Height int

	// Limits of each plane kind on this output.
	Sprite  caps.Limits
	Overlay caps.Limits
	Primary caps.Limits

	// Table holds the legal stacking orders.
	Table *zorder.Table
}

func (o *Output) limits(k plane.Kind) (caps.Limits, bool) {
	switch k {
	case plane.Sprite:
		return o.Sprite, true
	case plane.Overlay:
		return o.Overlay, true
	case plane.Primary:
		return o.Primary, true
	}
	return caps.Limits{}, false
}

// Platform is one display controller generation.
type Platform struct {
	Name    string
	Planes  plane.Layout
	Outputs []Output
}

// Layout returns the physical plane layout used to build a plane pool.
func (p *Platform) Layout() plane.Layout {
	return p.Planes
}

// NumOutputs returns the number of outputs.
func (p *Platform) NumOutputs() int {
	return len(p.Outputs)
}

// Output returns the description of output i.
func (p *Platform) Output(i int) (*Output, bool) {
	if i < 0 || i >= len(p.Outputs) {
		return nil, false
	}
	return &p.Outputs[i], true
}

// Supports runs the capability predicates of kind k on output against q.
// Outputs without a plane of the kind report caps.ReasonNoPlane.
func (p *Platform) Supports(output int, k plane.Kind, q caps.Query) caps.Reason {
	o, ok := p.Output(output)
	if !ok || p.capacity(k, output) == 0 {
		return caps.ReasonNoPlane
	}
	l, ok := o.limits(k)
	if !ok {
		return caps.ReasonNoPlane
	}
	return l.Check(q)
}

// Table returns the z-order table of output.
func (p *Platform) Table(output int) (*zorder.Table, bool) {
	o, ok := p.Output(output)
	if !ok || o.Table == nil {
		return nil, false
	}
	return o.Table, true
}

func (p *Platform) capacity(k plane.Kind, output int) int {
	n := 0
	for _, m := range p.slots(k) {
		if m.Has(output) {
			n++
		}
	}
	return n
}

func (p *Platform) slots(k plane.Kind) []slotmask.Mask {
	switch k {
	case plane.Sprite:
		return p.Planes.Sprites
	case plane.Overlay:
		return p.Planes.Overlays
	case plane.Primary:
		return p.Planes.Primaries
	}
	return nil
}

// exists reports whether id is a slot of the layout wired to output.
func (p *Platform) exists(id plane.ID, output int) bool {
	s := p.slots(id.Kind)
	return id.Slot >= 0 && id.Slot < len(s) && s[id.Slot].Has(output)
}

// Validate checks the platform for configuration errors: every output needs
// exactly one primary plane and a z-order table that only names planes
// wired to it.
func (p *Platform) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("platform: empty name")
	}
	if len(p.Outputs) == 0 {
		return fmt.Errorf("platform %s: no outputs", p.Name)
	}
	for i := range p.Outputs {
		o := &p.Outputs[i]
		if n := p.capacity(plane.Primary, i); n != 1 {
			return fmt.Errorf("platform %s: output %d has %d primary planes, want 1", p.Name, i, n)
		}
		if o.Table == nil {
			return fmt.Errorf("platform %s: output %d has no z-order table", p.Name, i)
		}
		if err := o.Table.Validate(func(id plane.ID) bool { return p.exists(id, i) }); err != nil {
			return fmt.Errorf("platform %s: output %d: %w", p.Name, i, err)
		}
	}
	return nil
}
