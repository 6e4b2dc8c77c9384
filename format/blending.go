// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package format

import (
	"fmt"
	"strings"
)

// Blending is how a layer is combined with the content beneath it.
type Blending uint8

// Blending modes.
const (
	// BlendNone presents the layer opaque; its alpha channel is ignored.
	BlendNone Blending = iota

	// BlendPremultiplied blends with color channels already scaled by alpha.
	BlendPremultiplied

	// BlendCoverage blends with non-premultiplied color channels.
	BlendCoverage
)

// String returns the blending mode name.
func (b Blending) String() string {
	switch b {
	case BlendNone:
		return "none"
	case BlendPremultiplied:
		return "premultiplied"
	case BlendCoverage:
		return "coverage"
	default:
		return fmt.Sprintf("Blending(%d)", uint8(b))
	}
}

// ParseBlending parses a blending name as returned by String.
func ParseBlending(s string) (Blending, error) {
	for _, b := range []Blending{BlendNone, BlendPremultiplied, BlendCoverage} {
		if strings.EqualFold(s, b.String()) {
			return b, nil
		}
	}
	if s == "" {
		return BlendNone, nil
	}
	return BlendNone, fmt.Errorf("format: unknown blending %q", s)
}

// BlendingSet is a set of blending modes.
type BlendingSet uint8

// BlendingsOf returns a set containing modes.
func BlendingsOf(bs ...Blending) BlendingSet {
	var s BlendingSet
	for _, b := range bs {
		s |= 1 << b
	}
	return s
}

// Has reports whether b is in s.
func (s BlendingSet) Has(b Blending) bool {
	return b < 8 && s&(1<<b) != 0
}
