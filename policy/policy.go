// Package policy carries the inputs of the video, blanking and protected
// content policy into the allocator.
//
// Policy decisions arrive asynchronously from vsync, hotplug and power
// handlers running on their own goroutines. They post [Event] values to a
// [Queue]; the prepare pass drains the queue once at its start and takes a
// [Gates] snapshot that stays fixed for the whole pass.
package policy

import (
	"fmt"
	"time"
)

// Gates are the boolean policy inputs read once per allocation pass.
type Gates struct {
	// OverlayAllowed enables video planes.
	OverlayAllowed bool

	// ExtendedMode moves video from the primary display to the external
	// output.
	ExtendedMode bool

	// ProtectedPresent is set when protected content is on screen anywhere.
	// Video planes are then reserved for protected layers.
	ProtectedPresent bool
}

// DefaultGates allows overlays with no extended mode and no protected
// content.
func DefaultGates() Gates {
	return Gates{OverlayAllowed: true}
}

func (g Gates) String() string {
	return fmt.Sprintf("overlay=%t extended=%t protected=%t", g.OverlayAllowed, g.ExtendedMode, g.ProtectedPresent)
}

// Event is a request from the policy or event subsystem.
type Event interface {
	event()
}

// Hotplug reports an output being connected or disconnected.
type Hotplug struct {
	Output    int
	Connected bool
	Width     int
	Height    int
}

// SetGates replaces the policy gates from the next pass on.
type SetGates struct {
	Gates Gates
}

// DisableOverlays demotes every layer on a video plane, on every output,
// and keeps overlays disabled until gates allow them again.
type DisableOverlays struct{}

// ForceFramebuffer pins one layer of an output to the framebuffer until
// the output's layer stack changes.
type ForceFramebuffer struct {
	Output int
	Index  int
}

// Vsync reports a vertical blank of an output.
type Vsync struct {
	Output   int
	Sequence uint64
	Time     time.Time
}

func (Hotplug) event()          {}
func (SetGates) event()         {}
func (DisableOverlays) event()  {}
func (ForceFramebuffer) event() {}
func (Vsync) event()            {}
