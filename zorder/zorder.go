// Package zorder maps a stack of plane kinds onto the physical plane
// identities of an output.
//
// Display hardware fixes the stacking rules of its planes. A [Table] lists,
// for every combination of entry count and video entry positions, the legal
// bottom to top letter sequences; each letter names one physical plane. The
// solver picks the first legal sequence whose planes are all available.
package zorder

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/hwc/internal/assert"
	"github.com/gogpu/hwc/plane"
)

// ErrNoSequence is returned when no legal sequence can present a stack.
var ErrNoSequence = errors.New("zorder: no legal sequence")

// Key selects the sequences for a stack. Bit i of VideoMask is set when
// entry i, counting from the bottom, uses an overlay plane.
type Key struct {
	Count     int
	VideoMask uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%#b", k.Count, k.VideoMask)
}

// Sequence names one physical plane per entry, bottom to top, e.g. "DAB".
type Sequence string

// Table is the stacking table of one output.
type Table struct {
	// Letters maps sequence letters to plane identities.
	Letters map[byte]plane.ID

	// Sequences lists legal sequences per key in preference order.
	Sequences map[Key][]Sequence
}

// InvalidTableError reports a table that contradicts itself or the
// hardware. It is a platform configuration bug, never a runtime condition.
type InvalidTableError struct {
	Key      Key
	Sequence Sequence
	Reason   string
}

func (e *InvalidTableError) Error() string {
	if e.Sequence == "" {
		return fmt.Sprintf("zorder: invalid table at %v: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("zorder: invalid table at %v, sequence %q: %s", e.Key, e.Sequence, e.Reason)
}

// VideoMask returns the mask of overlay entries in kinds, bottom first.
// Stacks beyond 32 entries cannot be keyed; their high entries are ignored.
func VideoMask(kinds []plane.Kind) uint32 {
	var m uint32
	for i, k := range kinds {
		if k == plane.Overlay && i < 32 {
			m |= 1 << uint(i)
		}
	}
	return m
}

// KeyFor returns the table key of a stack.
func KeyFor(kinds []plane.Kind) Key {
	return Key{Count: len(kinds), VideoMask: VideoMask(kinds)}
}

// Solve returns one plane identity per entry of kinds, bottom to top. The
// chosen sequence is the first one, in table order, whose letters carry
// the kind of their entry and whose planes available reports as usable.
// When no sequence fits, Solve returns an error wrapping ErrNoSequence.
func (t *Table) Solve(kinds []plane.Kind, available func(plane.ID) bool) ([]plane.ID, error) {
	key := KeyFor(kinds)
	seqs := t.Sequences[key]
	if len(seqs) == 0 {
		return nil, fmt.Errorf("%w for %v", ErrNoSequence, key)
	}

	ids := make([]plane.ID, len(kinds))
next:
	for _, seq := range seqs {
		if len(seq) != len(kinds) {
			assert.Failf("%v", &InvalidTableError{Key: key, Sequence: seq, Reason: "length differs from key"})
			continue
		}
		for i := range len(seq) {
			id, ok := t.Letters[seq[i]]
			if !ok {
				assert.Failf("%v", &InvalidTableError{Key: key, Sequence: seq, Reason: fmt.Sprintf("unknown letter %q", seq[i])})
				continue next
			}
			if id.Kind != kinds[i] || !available(id) {
				continue next
			}
			ids[i] = id
		}
		return ids, nil
	}
	return nil, fmt.Errorf("%w for %v: planes busy", ErrNoSequence, key)
}

// Validate checks the table against itself and against the set of planes
// that exist on the output. It returns the first problem found, in key
// order, as an *InvalidTableError.
func (t *Table) Validate(exists func(plane.ID) bool) error {
	if len(t.Sequences[Key{Count: 1}]) == 0 {
		return &InvalidTableError{Key: Key{Count: 1}, Reason: "no sequence for a single entry"}
	}

	keys := make([]Key, 0, len(t.Sequences))
	for k := range t.Sequences {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Count != keys[j].Count {
			return keys[i].Count < keys[j].Count
		}
		return keys[i].VideoMask < keys[j].VideoMask
	})

	for _, key := range keys {
		if key.Count < 1 || key.Count > 32 || key.VideoMask>>uint(key.Count) != 0 {
			return &InvalidTableError{Key: key, Reason: "video mask outside entry count"}
		}
		for _, seq := range t.Sequences[key] {
			if err := t.validateSequence(key, seq, exists); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Table) validateSequence(key Key, seq Sequence, exists func(plane.ID) bool) error {
	fail := func(format string, args ...any) error {
		return &InvalidTableError{Key: key, Sequence: seq, Reason: fmt.Sprintf(format, args...)}
	}
	if len(seq) != key.Count {
		return fail("length %d, want %d", len(seq), key.Count)
	}
	seen := make(map[byte]bool, len(seq))
	for i := range len(seq) {
		c := seq[i]
		if seen[c] {
			return fail("letter %q used twice", c)
		}
		seen[c] = true

		id, ok := t.Letters[c]
		if !ok {
			return fail("unknown letter %q", c)
		}
		if !exists(id) {
			return fail("letter %q names missing plane %v", c, id)
		}
		video := key.VideoMask&(1<<uint(i)) != 0
		if video != (id.Kind == plane.Overlay) {
			return fail("letter %q (%v) at entry %d disagrees with the video mask", c, id.Kind, i)
		}
	}
	return nil
}

// String lists the letters of the table, for logs.
func (t *Table) String() string {
	letters := make([]string, 0, len(t.Letters))
	for c, id := range t.Letters {
		letters = append(letters, fmt.Sprintf("%c=%v", c, id))
	}
	sort.Strings(letters)
	return "zorder.Table{" + strings.Join(letters, " ") + "}"
}
