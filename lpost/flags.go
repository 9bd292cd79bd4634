// Package lpost contains the inlet timestamp post-processing options
// and the post-processor that applies them.
package lpost

import (
	"strings"
)

// Flags is a set of post-processing options combined with bitwise OR.
type Flags uint32

// Flag values are part of the public contract and must not be renumbered.
const (
	// None returns ground-truth timestamps.
	None Flags = 0

	// ClockSync adds the current clock offset to received timestamps.
	ClockSync Flags = 1

	// Dejitter smooths timestamps with a linear regression
	// over the sample index.
	Dejitter Flags = 2

	// Monotonize forces timestamps to be non-decreasing.
	Monotonize Flags = 4

	// Threadsafe serializes post-processing,
	// so one inlet may be pulled from multiple goroutines.
	Threadsafe Flags = 8

	All = ClockSync | Dejitter | Monotonize | Threadsafe
)

// Valid reports whether f contains only known flags.
func (f Flags) Valid() bool {
	return f&^All == 0
}

func (f Flags) String() string {
	if f == None {
		return "none"
	}

	var parts []string
	for _, x := range []struct {
		f    Flags
		name string
	}{
		{ClockSync, "clocksync"},
		{Dejitter, "dejitter"},
		{Monotonize, "monotonize"},
		{Threadsafe, "threadsafe"},
	} {
		if f&x.f != 0 {
			parts = append(parts, x.name)
		}
	}
	if rest := f &^ All; rest != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}
