// Package hwc allocates the hardware planes of a display controller to the
// layers a windowing system submits each frame.
//
// # Overview
//
// A display controller can scan out a handful of buffers directly: sprites
// for RGB content, overlays for scaled YUV video and one primary plane per
// output. Every layer that gets a plane saves the compositor from drawing
// it. hwc decides, for every frame and output, which layers go to which
// plane and in what hardware stacking order, and composes the rest into a
// framebuffer target that the primary plane presents.
//
// # Quick Start
//
//	dev, err := hwc.Open("twin", hardware, mapper)
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	results, err := dev.Prepare([]hwc.Frame{{Output: 0, Layers: specs}})
//	if err != nil {
//	    return err
//	}
//	// draw the framebuffer layers, then
//	err = dev.Commit(results)
//
// # Architecture
//
// The library is organized into:
//   - plane: plane objects and the pool with its free/reclaimed lifecycle
//   - caps: the per-kind capability predicates
//   - zorder: legal stacking tables and their solver
//   - layer: layer lists and the assignment engine
//   - platform: per-controller tables, selected by name
//   - policy: gates and events posted from other goroutines
//   - compose: the software framebuffer compositor
//
// # Frame Model
//
// Planes released in frame N stay programmed until the hardware has
// latched frame N+1, so they are reclaimed rather than freed. Prepare
// retires them at the start of the following pass. An output whose layers
// only flip buffers keeps its assignment; any geometry change rebuilds it.
package hwc
