// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package format

import (
	"fmt"
	"strings"
)

// Transform is the orientation applied to a buffer when it is presented.
// The bit layout follows the windowing system: flips are applied first,
// then a 90 degree clockwise rotation.
type Transform uint8

// Transforms.
const (
	Identity Transform = 0
	FlipH    Transform = 1 << 0
	FlipV    Transform = 1 << 1
	Rot90    Transform = 1 << 2
	Rot180             = FlipH | FlipV
	Rot270             = Rot180 | Rot90
)

var transformNames = map[Transform]string{
	Identity:      "identity",
	FlipH:         "flip-h",
	FlipV:         "flip-v",
	Rot90:         "rot90",
	Rot180:        "rot180",
	Rot270:        "rot270",
	FlipH | Rot90: "flip-h-rot90",
	FlipV | Rot90: "flip-v-rot90",
}

// String returns the transform name.
func (t Transform) String() string {
	if s, ok := transformNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Transform(%d)", uint8(t))
}

// SwapsAxes reports whether t exchanges width and height.
func (t Transform) SwapsAxes() bool {
	return t&Rot90 != 0
}

// ParseTransform parses a transform name as returned by String.
func ParseTransform(s string) (Transform, error) {
	if s == "" {
		return Identity, nil
	}
	for t, name := range transformNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return Identity, fmt.Errorf("format: unknown transform %q", s)
}

// TransformSet is a set of transforms.
type TransformSet uint16

// TransformsOf returns a set containing transforms.
func TransformsOf(ts ...Transform) TransformSet {
	var s TransformSet
	for _, t := range ts {
		s |= 1 << (t & 7)
	}
	return s
}

// Has reports whether t is in s.
func (s TransformSet) Has(t Transform) bool {
	return t <= Rot270 && s&(1<<t) != 0
}
