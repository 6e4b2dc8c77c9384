package layer

import (
	"errors"

	"github.com/gogpu/hwc/buffer"
	"github.com/gogpu/hwc/internal/assert"
	"github.com/gogpu/hwc/internal/logging"
	"github.com/gogpu/hwc/plane"
)

// Update pushes every stacked layer's current buffer into its plane. A
// layer whose plane rejects the buffer is demoted and the stack is
// reconciled again, until a round binds without rejection. Rejected
// protected layers and a rejected framebuffer target keep their plane and
// are marked stale instead, so the round after the last layer leaves the
// hardware binds only the target.
//
// A demoted layer never regains a plane while the list lives, so Update runs
// at most one round more than there are layers. It returns the number of
// rounds.
func (a *Assigner) Update(l *List) int {
	bound := len(l.layers) + 1
	for round := 1; ; round++ {
		if !a.bind(l) {
			return round
		}
		if round >= bound {
			assert.Failf("output %d: update did not settle after %d rounds", a.output, round)
			return round
		}
		a.Reconcile(l)
	}
}

// bind binds the stack once. It reports whether any layer was demoted.
func (a *Assigner) bind(l *List) bool {
	demoted := false
	for _, e := range l.config.Entries {
		ly := e.Layer
		if ly.target && ly.spec.Handle == 0 {
			// The host binds the framebuffer itself.
			continue
		}
		e.Plane.SetGeometry(ly.geometry())
		err := e.Plane.SetBuffer(ly.spec.Handle)
		if err == nil {
			ly.stale = false
			ly.notReady = 0
			continue
		}

		notReady := errors.Is(err, buffer.ErrNotReady)
		if notReady {
			ly.notReady++
			if ly.notReady == notReadyWarnings {
				logging.Logger().Warn("layer: buffer repeatedly not ready", "output", a.output, "layer", ly.index, "frames", ly.notReady)
			}
		}
		if ly.target || ly.info.Protected {
			ly.stale = true
			logging.Logger().Debug("layer: keeping previous buffer", "output", a.output, "layer", ly.index, "err", err)
			continue
		}

		if notReady {
			a.demote(ly, DemoteNotReady)
		} else {
			logging.Logger().Warn("layer: plane rejected buffer", "output", a.output, "layer", ly.index, "err", err)
			a.demote(ly, DemoteRejected)
		}
		demoted = true
	}
	return demoted
}

// Force pins layer i of l to the framebuffer on behalf of the policy
// subsystem and reconciles the stack. Protected layers are blanked.
func (a *Assigner) Force(l *List, i int) {
	if i < 0 || i >= len(l.layers) {
		logging.Logger().Warn("layer: force of unknown layer", "output", a.output, "layer", i)
		return
	}
	ly := l.layers[i]
	ly.forced = true
	a.demote(ly, DemotePolicy)
	a.Reconcile(l)
}

// DemoteKind forces every layer holding a plane of kind k back to the
// framebuffer and reconciles the stack. It returns the number of layers
// demoted.
func (a *Assigner) DemoteKind(l *List, k plane.Kind) int {
	n := 0
	for _, ly := range l.layers {
		if ly.holds(k) {
			ly.forced = true
			a.demote(ly, DemotePolicy)
			n++
		}
	}
	if n > 0 {
		a.Reconcile(l)
	}
	return n
}
