// Package lbitset encodes bitsets into byte frames.
//
// Both ends must agree on the bitset length out of band
// (for chunk frames, it is the sample count),
// so only the words are encoded, behind a one-byte encoding header.
package lbitset

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/golang/snappy"
)

const (
	rawEncoding    byte = 0
	snappyEncoding byte = 1
	indexEncoding  byte = 2
)

// ErrShortBuffer is returned when a frame ends inside an encoded bitset.
var ErrShortBuffer = errors.New("bitset encoding truncated")

// Encoder appends adaptively encoded bitsets to byte slices.
// The zero value is ready to use.
// An Encoder reuses internal buffers and is not safe for concurrent use.
type Encoder struct {
	wordBuf []byte
	encBuf  []byte
}

// Append appends the encoding of bs to dst.
//
// The encoding is the smallest of: raw little endian words,
// snappy-compressed words, or a list of set indices.
func (e *Encoder) Append(dst []byte, bs *bitset.BitSet) []byte {
	if useIndexes(bs) {
		return appendIndexes(dst, bs)
	}

	words := bs.Words()
	nBytes := 8 * len(words)
	if cap(e.wordBuf) < nBytes {
		e.wordBuf = make([]byte, nBytes)
	} else {
		e.wordBuf = e.wordBuf[:nBytes]
	}
	for i, w := range words {
		binary.LittleEndian.PutUint64(e.wordBuf[i*8:], w)
	}

	if maxEnc := snappy.MaxEncodedLen(nBytes); cap(e.encBuf) < maxEnc {
		e.encBuf = make([]byte, maxEnc)
	} else {
		e.encBuf = e.encBuf[:maxEnc]
	}
	enc := snappy.Encode(e.encBuf, e.wordBuf)

	// Snappy carries a uvarint size prefix we have to add,
	// while the raw size is implied by the bitset length.
	if len(e.wordBuf) <= len(enc)+binary.MaxVarintLen16 {
		dst = append(dst, rawEncoding)
		return append(dst, e.wordBuf...)
	}

	dst = append(dst, snappyEncoding)
	dst = binary.AppendUvarint(dst, uint64(len(enc)))
	return append(dst, enc...)
}

func useIndexes(bs *bitset.BitSet) bool {
	// Each index costs at most a few bytes as a uvarint delta,
	// compared to one bit in the raw encoding.
	return bs.Count()*16 < bs.Len()+64 || bs.Count() < 4
}

func appendIndexes(dst []byte, bs *bitset.BitSet) []byte {
	dst = append(dst, indexEncoding)
	dst = binary.AppendUvarint(dst, uint64(bs.Count()))

	prev := uint(0)
	for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
		dst = binary.AppendUvarint(dst, uint64(i-prev))
		prev = i
	}
	return dst
}

// Decoder reads bitsets produced by [Encoder].
// The zero value is ready to use.
type Decoder struct {
	wordBuf []byte
}

// Read decodes a bitset from the start of src into bs,
// whose length must already match the encoded bitset.
// It returns the remainder of src.
func (d *Decoder) Read(src []byte, bs *bitset.BitSet) ([]byte, error) {
	if len(src) < 1 {
		return nil, ErrShortBuffer
	}
	h := src[0]
	src = src[1:]

	words := bs.Words()
	nBytes := 8 * len(words)

	switch h {
	case rawEncoding:
		if len(src) < nBytes {
			return nil, fmt.Errorf("failed to read raw bitset: %w", ErrShortBuffer)
		}
		for i := range words {
			words[i] = binary.LittleEndian.Uint64(src[i*8:])
		}
		return src[nBytes:], nil

	case snappyEncoding:
		encSz, n := binary.Uvarint(src)
		if n <= 0 || uint64(len(src)-n) < encSz {
			return nil, fmt.Errorf("failed to read snappy bitset: %w", ErrShortBuffer)
		}
		enc := src[n : n+int(encSz)]

		decSz, err := snappy.DecodedLen(enc)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate snappy-decoded bitset length: %w", err)
		}
		if decSz != nBytes {
			return nil, fmt.Errorf(
				"calculated decoded size of %d bytes but expected %d",
				decSz, nBytes,
			)
		}

		wb, err := snappy.Decode(d.wordBuf, enc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snappy bitset: %w", err)
		}
		// wb could have been nil on error;
		// that's why we used the temporary variable.
		d.wordBuf = wb

		for i := range words {
			words[i] = binary.LittleEndian.Uint64(d.wordBuf[i*8:])
		}
		return src[n+int(encSz):], nil

	case indexEncoding:
		count, n := binary.Uvarint(src)
		if n <= 0 {
			return nil, fmt.Errorf("failed to read bitset index count: %w", ErrShortBuffer)
		}
		src = src[n:]

		clear(words)
		idx := uint64(0)
		for range count {
			delta, n := binary.Uvarint(src)
			if n <= 0 {
				return nil, fmt.Errorf("failed to read bitset index: %w", ErrShortBuffer)
			}
			src = src[n:]
			idx += delta
			if idx >= uint64(bs.Len()) {
				return nil, fmt.Errorf(
					"bitset index %d out of range for length %d", idx, bs.Len(),
				)
			}
			bs.Set(uint(idx))
		}
		return src, nil

	default:
		return nil, fmt.Errorf("unknown bitset header byte 0x%x", h)
	}
}
