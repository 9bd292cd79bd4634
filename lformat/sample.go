package lformat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Value is the closed set of Go types that can be pushed into an outlet
// or pulled from an inlet, independent of the stream's declared [ChannelFormat].
//
// Text values ([string]) and binary blobs ([]byte) share the wire representation
// of the [String] channel format.
type Value interface {
	float32 | float64 | int8 | int16 | int32 | int64 | string | []byte
}

// Sample holds the channel values of a single sample,
// stored in the stream's declared format.
//
// Numeric formats are stored as a packed little endian byte slice,
// so that wire encoding is a plain copy.
// The String format is stored as one byte slice per channel.
type Sample struct {
	format ChannelFormat
	n      int

	raw  []byte
	strs [][]byte
}

// NewSample returns a zeroed sample for the given format and channel count.
//
// NewSample panics if f is not a valid format;
// an Undefined format can never describe data.
func NewSample(f ChannelFormat, channelCount int) *Sample {
	if !f.Valid() {
		panic(fmt.Errorf("BUG: cannot allocate sample for channel format %s", f))
	}
	if channelCount < 0 {
		panic(fmt.Errorf("BUG: negative channel count %d", channelCount))
	}

	s := &Sample{format: f, n: channelCount}
	if f == String {
		s.strs = make([][]byte, channelCount)
	} else {
		s.raw = make([]byte, channelCount*codecs[f].width)
	}
	return s
}

// Format returns the format the values are stored in.
func (s *Sample) Format() ChannelFormat { return s.format }

// Len returns the number of channels.
func (s *Sample) Len() int { return s.n }

// Clone returns a deep copy of s.
func (s *Sample) Clone() *Sample {
	c := &Sample{format: s.format, n: s.n}
	if s.raw != nil {
		c.raw = append([]byte(nil), s.raw...)
	}
	if s.strs != nil {
		c.strs = make([][]byte, len(s.strs))
		for i, b := range s.strs {
			c.strs[i] = append([]byte(nil), b...)
		}
	}
	return c
}

// Put stores values into s, converting each value to s's format.
//
// Numeric values written to a String sample are formatted losslessly.
// Text written to a numeric sample is parsed,
// and text that does not hold a number is stored as zero.
//
// Put panics if len(values) differs from s.Len();
// callers are expected to have validated the length already.
func Put[T Value](s *Sample, values []T) {
	if len(values) != s.n {
		panic(fmt.Errorf(
			"BUG: attempted to put %d values into a sample of %d channels",
			len(values), s.n,
		))
	}

	switch vs := any(values).(type) {
	case []float32:
		for i, v := range vs {
			s.setFloat(i, float64(v), 32)
		}
	case []float64:
		for i, v := range vs {
			s.setFloat(i, v, 64)
		}
	case []int8:
		for i, v := range vs {
			s.setInt(i, int64(v))
		}
	case []int16:
		for i, v := range vs {
			s.setInt(i, int64(v))
		}
	case []int32:
		for i, v := range vs {
			s.setInt(i, int64(v))
		}
	case []int64:
		for i, v := range vs {
			s.setInt(i, v)
		}
	case []string:
		for i, v := range vs {
			s.setText(i, []byte(v))
		}
	case [][]byte:
		for i, v := range vs {
			s.setText(i, v)
		}
	default:
		panic(fmt.Errorf("BUG: unhandled value type %T", values))
	}
}

// Get converts the values of s into dst, which is resized to s.Len(),
// and returns the resulting slice.
// Existing capacity in dst is reused.
func Get[T Value](s *Sample, dst []T) []T {
	if cap(dst) < s.n {
		dst = make([]T, s.n)
	} else {
		dst = dst[:s.n]
	}

	switch vs := any(dst).(type) {
	case []float32:
		for i := range vs {
			vs[i] = float32(s.float(i))
		}
	case []float64:
		for i := range vs {
			vs[i] = s.float(i)
		}
	case []int8:
		for i := range vs {
			vs[i] = int8(s.int(i))
		}
	case []int16:
		for i := range vs {
			vs[i] = int16(s.int(i))
		}
	case []int32:
		for i := range vs {
			vs[i] = int32(s.int(i))
		}
	case []int64:
		for i := range vs {
			vs[i] = s.int(i)
		}
	case []string:
		for i := range vs {
			vs[i] = strings.ToValidUTF8(string(s.text(i)), "�")
		}
	case [][]byte:
		for i := range vs {
			vs[i] = append(vs[i][:0], s.text(i)...)
		}
	default:
		panic(fmt.Errorf("BUG: unhandled value type %T", dst))
	}

	return dst
}

func (s *Sample) setFloat(i int, v float64, bits int) {
	if s.format == String {
		s.strs[i] = strconv.AppendFloat(s.strs[i][:0], v, 'g', -1, bits)
		return
	}
	c := codecs[s.format]
	c.putFloat(s.raw[i*c.width:], v)
}

func (s *Sample) setInt(i int, v int64) {
	if s.format == String {
		s.strs[i] = strconv.AppendInt(s.strs[i][:0], v, 10)
		return
	}
	c := codecs[s.format]
	c.putInt(s.raw[i*c.width:], v)
}

func (s *Sample) setText(i int, b []byte) {
	if s.format == String {
		s.strs[i] = append(s.strs[i][:0], b...)
		return
	}
	c := codecs[s.format]
	if c.float {
		c.putFloat(s.raw[i*c.width:], parseFloat(b))
	} else {
		c.putInt(s.raw[i*c.width:], parseInt(b))
	}
}

func (s *Sample) float(i int) float64 {
	if s.format == String {
		return parseFloat(s.strs[i])
	}
	c := codecs[s.format]
	return c.getFloat(s.raw[i*c.width:])
}

func (s *Sample) int(i int) int64 {
	if s.format == String {
		return parseInt(s.strs[i])
	}
	c := codecs[s.format]
	return c.getInt(s.raw[i*c.width:])
}

// text returns the textual form of channel i.
// For the String format the returned slice aliases s.
func (s *Sample) text(i int) []byte {
	if s.format == String {
		return s.strs[i]
	}
	c := codecs[s.format]
	b := s.raw[i*c.width:]
	if c.float {
		return strconv.AppendFloat(nil, c.getFloat(b), 'g', -1, c.floatBits)
	}
	return strconv.AppendInt(nil, c.getInt(b), 10)
}

// Non-numeric text silently becomes zero.
func parseFloat(b []byte) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(b []byte) int64 {
	t := strings.TrimSpace(string(b))
	if v, err := strconv.ParseInt(t, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		return int64(f)
	}
	return 0
}

// AppendWire appends the wire encoding of s's values to b.
// Numeric values are copied as packed little endian words;
// String values are each prefixed with their uvarint length.
func AppendWire(b []byte, s *Sample) []byte {
	if s.format != String {
		return append(b, s.raw...)
	}
	for _, v := range s.strs {
		b = binary.AppendUvarint(b, uint64(len(v)))
		b = append(b, v...)
	}
	return b
}

// ErrShortWire is returned from [ReadWire] when
// the input ends before all channel values were read.
var ErrShortWire = errors.New("wire data too short for sample")

// ReadWire decodes one sample's values from the front of b into s,
// which determines the expected format and channel count.
// It returns the remainder of b.
func ReadWire(b []byte, s *Sample) ([]byte, error) {
	if s.format != String {
		n := len(s.raw)
		if len(b) < n {
			return nil, ErrShortWire
		}
		copy(s.raw, b[:n])
		return b[n:], nil
	}

	for i := range s.strs {
		sz, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, fmt.Errorf("failed to read string length of channel %d: %w", i, ErrShortWire)
		}
		b = b[n:]
		if uint64(len(b)) < sz {
			return nil, fmt.Errorf("string of channel %d truncated: %w", i, ErrShortWire)
		}
		s.strs[i] = append(s.strs[i][:0], b[:sz]...)
		b = b[sz:]
	}
	return b, nil
}
