package lformat

import "fmt"

// ChannelFormat is the data format of every channel in a stream.
//
// The numeric values match the channel format codes of the native library,
// so they must not change.
type ChannelFormat uint8

const (
	// Undefined cannot be transmitted.
	// It is treated as an error value by every operation that needs a format.
	Undefined ChannelFormat = 0

	// Float32 is for up to 24-bit precision measurements in the appropriate physical unit.
	Float32 ChannelFormat = 1

	// Double64 is for universal numeric data, up to 53-bit integers.
	Double64 ChannelFormat = 2

	// String is for variable-length strings or data blobs.
	String ChannelFormat = 3

	// Int32 is for high-rate digitized formats that require 32-bit precision.
	Int32 ChannelFormat = 4

	// Int16 is for very high rate signals such as consumer-grade audio.
	Int16 ChannelFormat = 5

	// Int8 is for binary signals or other coded data.
	Int8 ChannelFormat = 6

	// Int64 is for 64-bit integers.
	Int64 ChannelFormat = 7
)

// Valid reports whether f is one of the transmittable formats.
func (f ChannelFormat) Valid() bool {
	return f >= Float32 && f <= Int64
}

// ChannelBytes is the number of bytes occupied by a single channel value.
// It is zero for [String] and [Undefined].
func (f ChannelFormat) ChannelBytes() int {
	if !f.Valid() {
		return 0
	}
	return codecs[f].width
}

// IsNumeric reports whether f is a fixed-width numeric format.
func (f ChannelFormat) IsNumeric() bool {
	return f.Valid() && f != String
}

func (f ChannelFormat) String() string {
	switch f {
	case Float32:
		return "float32"
	case Double64:
		return "double64"
	case String:
		return "string"
	case Int32:
		return "int32"
	case Int16:
		return "int16"
	case Int8:
		return "int8"
	case Int64:
		return "int64"
	default:
		return "undefined"
	}
}

// ParseChannelFormat returns the format named by s,
// as produced by [ChannelFormat.String].
// Unknown names produce [Undefined] and an error.
func ParseChannelFormat(s string) (ChannelFormat, error) {
	for f := Float32; f <= Int64; f++ {
		if f.String() == s {
			return f, nil
		}
	}
	if s == "undefined" {
		return Undefined, nil
	}
	return Undefined, fmt.Errorf("unknown channel format %q", s)
}
