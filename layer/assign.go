package layer

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gogpu/hwc/caps"
	"github.com/gogpu/hwc/internal/assert"
	"github.com/gogpu/hwc/internal/logging"
	"github.com/gogpu/hwc/plane"
	"github.com/gogpu/hwc/policy"
	"github.com/gogpu/hwc/zorder"
)

// Platform answers the per-output capability and stacking questions of the
// assignment engine.
type Platform interface {
	// Supports runs the capability predicates of kind k on output.
	Supports(output int, k plane.Kind, q caps.Query) caps.Reason

	// Table returns the z-order table of output.
	Table(output int) (*zorder.Table, bool)
}

// Demotion is why a layer lost its plane.
type Demotion uint8

const (
	// DemoteNotReady: the plane rejected the layer's buffer as not ready.
	DemoteNotReady Demotion = iota
	// DemoteRejected: the plane rejected the buffer for another reason.
	DemoteRejected
	// DemoteZOrder: no legal stacking order kept the layer on a plane.
	DemoteZOrder
	// DemoteOccluded: a framebuffer layer above it overlaps the layer.
	DemoteOccluded
	// DemotePolicy: the policy subsystem forced the layer off its plane.
	DemotePolicy

	numDemotions
)

var demotionNames = [numDemotions]string{"not-ready", "rejected", "zorder", "occluded", "policy"}

func (d Demotion) String() string {
	if d < numDemotions {
		return demotionNames[d]
	}
	return fmt.Sprintf("Demotion(%d)", uint8(d))
}

// DemotionHook observes demotions. It runs synchronously inside the pass.
type DemotionHook func(output int, l *Layer, d Demotion)

// Stats counts the work of an Assigner.
type Stats struct {
	Passes         int
	Reconciles     int
	ZOrderFailures int
	Demotions      [numDemotions]int
}

// zorderWarnings is the streak of passes needing z-order demotions after
// which the engine warns.
const zorderWarnings = 3

// Assigner assigns the planes of one output. It is driven synchronously
// from the prepare pass and is not safe for concurrent use.
type Assigner struct {
	pool   *plane.Pool
	plat   Platform
	output int
	gates  policy.Gates
	hook   DemotionHook
	stats  Stats

	zorderStreak int
}

// NewAssigner creates the engine for output.
func NewAssigner(pool *plane.Pool, plat Platform, output int) *Assigner {
	return &Assigner{pool: pool, plat: plat, output: output}
}

// SetDemotionHook installs fn, or removes the hook when fn is nil.
func (a *Assigner) SetDemotionHook(fn DemotionHook) { a.hook = fn }

func (a *Assigner) Output() int  { return a.output }
func (a *Assigner) Stats() Stats { return a.stats }

// Assign runs a full allocation pass over a freshly built list: every
// eligible layer is classified in priority order and the result is
// reconciled. g is the policy snapshot taken at the start of the pass.
func (a *Assigner) Assign(l *List, g policy.Gates) {
	a.gates = g
	a.stats.Passes++
	a.classify(l)
	a.Reconcile(l)
}

// classify visits layers by descending priority, topmost first among
// equals, and gives each the first plane kind that accepts it.
func (a *Assigner) classify(l *List) {
	order := slices.Clone(l.layers)
	slices.SortStableFunc(order, func(x, y *Layer) int {
		if c := cmp.Compare(y.priority, x.priority); c != 0 {
			return c
		}
		return cmp.Compare(y.index, x.index)
	})

	log := logging.Logger()
	for _, ly := range order {
		if !ly.eligible() {
			ly.detach()
			log.Debug("layer: framebuffer", "output", a.output, "layer", ly.index,
				"skip", ly.spec.Skip, "valid", ly.valid, "forced", ly.forced)
			continue
		}
		if pl, ok := a.claim(l, ly); ok {
			ly.attach(pl)
			log.Debug("layer: assigned", "output", a.output, "layer", ly.index, "plane", pl.ID())
			continue
		}
		ly.detach()
		log.Debug("layer: framebuffer", "output", a.output, "layer", ly.index, "composition", ly.comp)
	}
}

// claim finds a plane for ly. Sprites are tried before overlays since they
// are more plentiful.
func (a *Assigner) claim(l *List, ly *Layer) (*plane.Plane, bool) {
	q := ly.query(l.screen)
	for _, k := range []plane.Kind{plane.Sprite, plane.Overlay} {
		if k == plane.Overlay && !a.overlayAllowed(ly) {
			continue
		}
		if r := a.plat.Supports(a.output, k, q); !r.OK() {
			logging.Logger().Debug("layer: unsupported", "output", a.output, "layer", ly.index, "kind", k, "reason", r)
			continue
		}
		pl, ok := a.pool.Acquire(k, a.output)
		if !ok {
			continue
		}
		if err := pl.Attach(); err != nil {
			assert.Failf("%v", err)
			a.pool.Release(pl)
			continue
		}
		return pl, true
	}
	return nil, false
}

// overlayAllowed applies the policy gates to video planes. With protected
// content on screen the overlays are reserved for it; in extended mode
// video leaves the primary display to the external output.
func (a *Assigner) overlayAllowed(ly *Layer) bool {
	switch {
	case !a.gates.OverlayAllowed:
		return false
	case a.gates.ProtectedPresent && !ly.info.Protected:
		return false
	case a.gates.ExtendedMode && a.output == 0:
		return false
	}
	return true
}

// Reconcile places the primary plane and resolves the hardware stack.
// When the z-order table cannot present the stack, the weakest claim is
// demoted and reconciliation runs again. Every round removes one layer
// from the hardware, so the loop ends.
func (a *Assigner) Reconcile(l *List) {
	a.stats.Reconciles++
	failed := false
	defer func() { a.noteZOrder(failed) }()

	for range len(l.layers) + 2 {
		a.placePrimary(l)
		a.demoteOccluded(l)
		if a.solve(l) {
			return
		}

		failed = true
		a.stats.ZOrderFailures++
		victim := a.zorderVictim(l)
		if victim == nil {
			assert.Failf("output %d: no legal stack for %v", a.output, l.stackKinds())
			l.config = Config{}
			return
		}
		a.demote(victim, DemoteZOrder)
	}
	assert.Failf("output %d: reconciliation did not converge", a.output)
}

func (a *Assigner) noteZOrder(failed bool) {
	if !failed {
		a.zorderStreak = 0
		return
	}
	a.zorderStreak++
	if a.zorderStreak == zorderWarnings {
		logging.Logger().Warn("layer: repeated z-order exhaustion", "output", a.output, "passes", a.zorderStreak)
	}
}

// placePrimary takes the primary plane from whoever holds it and gives it
// to the best candidate: the single layer left for the framebuffer, the
// single layer of a one-layer stack presented by a sprite, or else the
// framebuffer target.
func (a *Assigner) placePrimary(l *List) {
	prim := a.takePrimary(l)
	if prim == nil {
		var ok bool
		prim, ok = a.pool.Acquire(plane.Primary, a.output)
		if !ok {
			logging.Logger().Error("layer: no primary plane", "output", a.output)
			return
		}
		if err := prim.Attach(); err != nil {
			assert.Failf("%v", err)
			a.pool.Release(prim)
			return
		}
	}

	fb := l.Framebuffer()
	switch {
	case len(fb) == 1 && a.primaryEligible(l, fb[0]):
		fb[0].attach(prim)
		logging.Logger().Debug("layer: primary substitutes framebuffer", "output", a.output, "layer", fb[0].index)
	case len(fb) == 0 && len(l.layers) == 1 && l.layers[0].holds(plane.Sprite) && a.primaryEligible(l, l.layers[0]):
		ly := l.layers[0]
		a.pool.Release(ly.detach())
		ly.attach(prim)
		logging.Logger().Debug("layer: primary replaces sprite", "output", a.output, "layer", ly.index)
	default:
		l.target.attach(prim)
	}
}

// takePrimary detaches the primary plane from the layer or target holding
// it and returns it, still attached and in use.
func (a *Assigner) takePrimary(l *List) *plane.Plane {
	if l.target.holds(plane.Primary) {
		return l.target.detach()
	}
	for _, ly := range l.layers {
		if ly.holds(plane.Primary) {
			return ly.detach()
		}
	}
	return nil
}

func (a *Assigner) primaryEligible(l *List, ly *Layer) bool {
	if !ly.eligible() || ly.demoted {
		return false
	}
	return a.plat.Supports(a.output, plane.Primary, ly.query(l.screen)).OK()
}

// demoteOccluded demotes hardware layers that the framebuffer target would
// be stacked below while a framebuffer layer above them overlaps them.
// Protected layers keep their plane.
func (a *Assigner) demoteOccluded(l *List) {
	if !l.TargetUsed() {
		return
	}
	for changed := true; changed; {
		changed = false
		fb := l.Framebuffer()
		if len(fb) == 0 {
			return
		}
		lowest := fb[0].index
		for _, ly := range l.layers {
			if ly.comp != Hardware || ly.index < lowest || ly.info.Protected {
				continue
			}
			if coveredBy(ly, fb) {
				a.demote(ly, DemoteOccluded)
				changed = true
			}
		}
	}
}

func coveredBy(ly *Layer, fb []*Layer) bool {
	for _, f := range fb {
		if f.index > ly.index && f.spec.Frame.Overlaps(ly.spec.Frame) {
			return true
		}
	}
	return false
}

// entries returns the hardware stack bottom to top. The framebuffer
// target sits where the lowest framebuffer layer is. When every layer has
// a plane it sits above the video entries at the bottom of the stack.
func (l *List) entries() []Entry {
	var out []Entry
	pos := -1
	for _, ly := range l.layers {
		if ly.comp != Hardware {
			if pos < 0 {
				pos = len(out)
			}
			continue
		}
		out = append(out, Entry{Layer: ly, Plane: ly.plane})
	}
	if !l.TargetUsed() {
		return out
	}
	if pos < 0 {
		pos = 0
		for pos < len(out) && out[pos].Plane.Kind() == plane.Overlay {
			pos++
		}
	}
	return slices.Insert(out, pos, Entry{Layer: l.target, Plane: l.target.plane})
}

func (l *List) stackKinds() []plane.Kind {
	return Config{Entries: l.entries()}.Kinds()
}

// solve looks up a legal sequence for the stack and moves planes so that
// every entry holds the identity the sequence names.
func (a *Assigner) solve(l *List) bool {
	entries := l.entries()
	kinds := Config{Entries: entries}.Kinds()

	table, ok := a.plat.Table(a.output)
	if !ok {
		assert.Failf("output %d: no z-order table", a.output)
		return false
	}

	held := make(map[plane.ID]*plane.Plane, len(entries))
	for _, e := range entries {
		held[e.Plane.ID()] = e.Plane
	}
	ids, err := table.Solve(kinds, func(id plane.ID) bool {
		_, mine := held[id]
		return mine || a.pool.Available(id, a.output)
	})
	if err != nil {
		logging.Logger().Debug("layer: z-order", "output", a.output, "kinds", kinds, "err", err)
		return false
	}

	if !a.exchange(entries, ids) {
		return false
	}
	for i, e := range entries {
		e.Plane.SetGeometry(e.Layer.geometry())
		e.Plane.SetZOrder(i)
	}
	l.config = Config{Entries: entries}
	logging.Logger().Debug("layer: stack", "output", a.output, "planes", ids)
	return true
}

// exchange gives entry i the plane ids[i]. Planes already held move
// between entries; missing identities are acquired and leftovers released.
func (a *Assigner) exchange(entries []Entry, ids []plane.ID) bool {
	spare := make(map[plane.ID]*plane.Plane)
	var moved []int
	for i, e := range entries {
		if e.Plane.ID() != ids[i] {
			spare[e.Plane.ID()] = e.Plane
			moved = append(moved, i)
		}
	}
	for _, i := range moved {
		pl, ok := spare[ids[i]]
		if ok {
			delete(spare, ids[i])
		} else {
			pl, ok = a.pool.AcquireSlot(ids[i], a.output)
			if !ok {
				assert.Failf("output %d: plane %v vanished during exchange", a.output, ids[i])
				return false
			}
			if err := pl.Attach(); err != nil {
				assert.Failf("%v", err)
				return false
			}
		}
		entries[i].Plane = pl
		entries[i].Layer.plane = pl
	}
	for _, pl := range spare {
		a.pool.Release(pl)
	}
	return true
}

// zorderVictim picks the entry to drop when the stack is illegal: the
// lowest priority video entry, else the lowest priority layer entry. Among
// equal priorities the bottom-most layer goes first.
func (a *Assigner) zorderVictim(l *List) *Layer {
	var victim *Layer
	better := func(ly *Layer) bool {
		if victim == nil {
			return true
		}
		return ly.priority < victim.priority
	}
	for _, ly := range l.layers {
		if ly.holds(plane.Overlay) && better(ly) {
			victim = ly
		}
	}
	if victim != nil {
		return victim
	}
	for _, ly := range l.layers {
		if ly.comp == Hardware && better(ly) {
			victim = ly
		}
	}
	return victim
}

// demote moves ly off its plane for the rest of the list's life.
func (a *Assigner) demote(ly *Layer, d Demotion) {
	if pl := ly.detach(); pl != nil {
		a.pool.Release(pl)
	}
	ly.demoted = true
	a.stats.Demotions[d]++
	logging.Logger().Debug("layer: demoted", "output", a.output, "layer", ly.index, "reason", d, "composition", ly.comp)
	if a.hook != nil {
		a.hook(a.output, ly, d)
	}
}
