// Package slotmask implements small bitmasks over hardware slot indices.
package slotmask

import (
	"math/bits"
	"strconv"
	"strings"
)

// Max is the number of slots a Mask can hold.
const Max = 32

// Mask is a set of slot indices in [0, Max).
type Mask uint32

// Of returns a mask with the given slots set.
func Of(slots ...int) Mask {
	var m Mask
	for _, s := range slots {
		m = m.Set(s)
	}
	return m
}

// Set returns m with slot set.
func (m Mask) Set(slot int) Mask {
	if slot < 0 || slot >= Max {
		return m
	}
	return m | 1<<uint(slot)
}

// Clear returns m with slot cleared.
func (m Mask) Clear(slot int) Mask {
	if slot < 0 || slot >= Max {
		return m
	}
	return m &^ (1 << uint(slot))
}

// Has reports whether slot is set.
func (m Mask) Has(slot int) bool {
	if slot < 0 || slot >= Max {
		return false
	}
	return m&(1<<uint(slot)) != 0
}

// Count returns the number of set slots.
func (m Mask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// Empty reports whether no slot is set.
func (m Mask) Empty() bool {
	return m == 0
}

// First returns the lowest set slot, or -1 if m is empty.
func (m Mask) First() int {
	if m == 0 {
		return -1
	}
	return bits.TrailingZeros32(uint32(m))
}

// ForEach calls fn for every set slot in ascending order.
func (m Mask) ForEach(fn func(slot int)) {
	for w := uint32(m); w != 0; {
		slot := bits.TrailingZeros32(w)
		fn(slot)
		w &^= 1 << uint(slot)
	}
}

// String formats m as a list of slots, e.g. "{0,2}".
func (m Mask) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	m.ForEach(func(slot int) {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(strconv.Itoa(slot))
	})
	sb.WriteByte('}')
	return sb.String()
}
