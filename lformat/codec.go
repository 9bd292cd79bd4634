package lformat

import (
	"encoding/binary"
	"math"
)

// codec is the per-format entry of the dispatch table.
// Every numeric format can be read and written as either a float64 or an int64;
// the conversion to the concrete width happens here and nowhere else.
type codec struct {
	width int

	// Whether the format is a floating point format.
	// String conversions use this to decide between float and integer formatting.
	float bool

	// Bit size used when formatting a float value as text,
	// so that float32 values are printed losslessly but without noise digits.
	floatBits int

	getFloat func([]byte) float64
	getInt   func([]byte) int64
	putFloat func([]byte, float64)
	putInt   func([]byte, int64)
}

// codecs is indexed by ChannelFormat.
// The String and Undefined entries have zero width and nil functions;
// callers must dispatch those formats before consulting the table.
var codecs = [...]codec{
	Undefined: {},

	Float32: {
		width:     4,
		float:     true,
		floatBits: 32,
		getFloat: func(b []byte) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		},
		getInt: func(b []byte) int64 {
			return int64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		},
		putFloat: func(b []byte, v float64) {
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		},
		putInt: func(b []byte, v int64) {
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		},
	},

	Double64: {
		width:     8,
		float:     true,
		floatBits: 64,
		getFloat: func(b []byte) float64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		},
		getInt: func(b []byte) int64 {
			return int64(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		},
		putFloat: func(b []byte, v float64) {
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		},
		putInt: func(b []byte, v int64) {
			binary.LittleEndian.PutUint64(b, math.Float64bits(float64(v)))
		},
	},

	String: {},

	Int32: {
		width: 4,
		getFloat: func(b []byte) float64 {
			return float64(int32(binary.LittleEndian.Uint32(b)))
		},
		getInt: func(b []byte) int64 {
			return int64(int32(binary.LittleEndian.Uint32(b)))
		},
		putFloat: func(b []byte, v float64) {
			binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		},
		putInt: func(b []byte, v int64) {
			binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		},
	},

	Int16: {
		width: 2,
		getFloat: func(b []byte) float64 {
			return float64(int16(binary.LittleEndian.Uint16(b)))
		},
		getInt: func(b []byte) int64 {
			return int64(int16(binary.LittleEndian.Uint16(b)))
		},
		putFloat: func(b []byte, v float64) {
			binary.LittleEndian.PutUint16(b, uint16(int16(v)))
		},
		putInt: func(b []byte, v int64) {
			binary.LittleEndian.PutUint16(b, uint16(int16(v)))
		},
	},

	Int8: {
		width: 1,
		getFloat: func(b []byte) float64 {
			return float64(int8(b[0]))
		},
		getInt: func(b []byte) int64 {
			return int64(int8(b[0]))
		},
		putFloat: func(b []byte, v float64) {
			b[0] = byte(int8(v))
		},
		putInt: func(b []byte, v int64) {
			b[0] = byte(int8(v))
		},
	},

	Int64: {
		width: 8,
		getFloat: func(b []byte) float64 {
			return float64(int64(binary.LittleEndian.Uint64(b)))
		},
		getInt: func(b []byte) int64 {
			return int64(binary.LittleEndian.Uint64(b))
		},
		putFloat: func(b []byte, v float64) {
			binary.LittleEndian.PutUint64(b, uint64(int64(v)))
		},
		putInt: func(b []byte, v int64) {
			binary.LittleEndian.PutUint64(b, uint64(v))
		},
	},
}
