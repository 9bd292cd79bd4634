package lproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/lsl/internal/lbitset"
	"github.com/gordian-engine/lsl/lformat"
)

// Entry is one sample in a chunk frame.
type Entry struct {
	Sample    *lformat.Sample
	Timestamp float64

	// Deduced is set when Timestamp was derived from the previous
	// sample's timestamp by [NextTimestamp].
	// Deduced timestamps are not transmitted;
	// the receiver derives them again with the same arithmetic.
	Deduced bool
}

// NextTimestamp returns the timestamp deduced for the sample
// following one stamped prev, in a stream with nominal rate srate.
func NextTimestamp(prev, srate float64) float64 {
	if srate > 0 {
		return prev + 1/srate
	}
	return prev
}

// ChunkEncoder produces chunk frames.
// The zero value is ready to use; it is not safe for concurrent use.
//
// A chunk frame is:
//   - uvarint sample count
//   - bitset of deduced timestamps, one bit per sample
//   - little endian float64 of each explicit timestamp
//   - the wire encoding of each sample
//
// The first sample's timestamp is always explicit,
// so every frame decodes independently of the frames before it.
// An entry is only sent as deduced if its timestamp
// is exactly what the receiver will derive;
// otherwise its timestamp is sent explicitly.
type ChunkEncoder struct {
	NominalSrate float64

	bits lbitset.Encoder
	bs   bitset.BitSet
}

// Append appends the frame for entries to dst.
// It panics if entries is empty.
func (e *ChunkEncoder) Append(dst []byte, entries []Entry) []byte {
	if len(entries) == 0 {
		panic(errors.New("BUG: ChunkEncoder.Append called with no entries"))
	}

	dst = binary.AppendUvarint(dst, uint64(len(entries)))

	e.bs.ClearAll()
	e.resize(uint(len(entries)))
	for i := 1; i < len(entries); i++ {
		en := entries[i]
		if en.Deduced && en.Timestamp == NextTimestamp(entries[i-1].Timestamp, e.NominalSrate) {
			e.bs.Set(uint(i))
		}
	}
	dst = e.bits.Append(dst, &e.bs)

	for i, en := range entries {
		if !e.bs.Test(uint(i)) {
			dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(en.Timestamp))
		}
	}
	for _, en := range entries {
		dst = lformat.AppendWire(dst, en.Sample)
	}
	return dst
}

// resize sets the length of e.bs to exactly n.
func (e *ChunkEncoder) resize(n uint) {
	// There isn't a simple way to right-size a bitset,
	// so toggle the last bit to set the length.
	if e.bs.Len() > n {
		e.bs = *bitset.New(n)
		return
	}
	e.bs.Set(n - 1)
	e.bs.Clear(n - 1)
}

// ChunkDecoder parses chunk frames for one stream.
type ChunkDecoder struct {
	Format       lformat.ChannelFormat
	ChannelCount int
	NominalSrate float64

	bits lbitset.Decoder
}

// maxChunkEntries bounds the sample count claimed by a frame header.
const maxChunkEntries = 1 << 20

// Decode parses frame and appends its entries to dst,
// allocating a new sample for each.
func (d *ChunkDecoder) Decode(dst []Entry, frame []byte) ([]Entry, error) {
	n, sz := binary.Uvarint(frame)
	if sz <= 0 {
		return dst, errors.New("failed to read chunk sample count")
	}
	if n == 0 || n > maxChunkEntries {
		return dst, fmt.Errorf("invalid chunk sample count %d", n)
	}
	frame = frame[sz:]

	deduced := bitset.New(uint(n))
	frame, err := d.bits.Read(frame, deduced)
	if err != nil {
		return dst, fmt.Errorf("failed to read deduced timestamp flags: %w", err)
	}
	if deduced.Test(0) {
		return dst, errors.New("first timestamp of chunk must be explicit")
	}

	start := len(dst)
	var prev float64
	for i := range uint(n) {
		en := Entry{Deduced: deduced.Test(i)}
		if en.Deduced {
			en.Timestamp = NextTimestamp(prev, d.NominalSrate)
		} else {
			if len(frame) < 8 {
				return dst[:start], fmt.Errorf("failed to read timestamp %d: %w", i, lformat.ErrShortWire)
			}
			en.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(frame))
			frame = frame[8:]
		}
		prev = en.Timestamp
		dst = append(dst, en)
	}

	for i := start; i < len(dst); i++ {
		s := lformat.NewSample(d.Format, d.ChannelCount)
		frame, err = lformat.ReadWire(frame, s)
		if err != nil {
			return dst[:start], fmt.Errorf("failed to read sample %d: %w", i-start, err)
		}
		dst[i].Sample = s
	}

	if len(frame) != 0 {
		return dst[:start], fmt.Errorf("%d trailing bytes after chunk", len(frame))
	}
	return dst, nil
}
