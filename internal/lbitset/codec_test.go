package lbitset_test

import (
	"math/rand/v2"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/lsl/internal/lbitset"
	"github.com/stretchr/testify/require"
)

func TestCodec_roundTrip(t *testing.T) {
	t.Parallel()

	var enc lbitset.Encoder
	var dec lbitset.Decoder

	// Arbitrary seed values.
	rng := rand.New(rand.NewPCG(400, 500))

	var frame []byte
	for range 500 {
		sz := 1 + rng.UintN(4096)
		bs := bitset.New(sz)

		switch rng.IntN(4) {
		case 0:
			// Empty.
		case 1:
			// Everything but the first bit, the common chunk shape.
			for i := uint(1); i < sz; i++ {
				bs.Set(i)
			}
		default:
			setCount := rng.UintN(sz)
			for range setCount {
				bs.Set(rng.UintN(sz))
			}
		}

		// Trailing bytes must be left for the caller.
		frame = enc.Append(frame[:0], bs)
		frame = append(frame, 0xAB)

		got := bitset.New(sz)
		rest, err := dec.Read(frame, got)
		require.NoError(t, err)
		require.Equal(t, []byte{0xAB}, rest)

		require.Truef(
			t,
			bs.Equal(got),
			"sent: %s\nrcvd: %s", bs, got,
		)
	}
}

func TestCodec_denseSetsCompress(t *testing.T) {
	t.Parallel()

	bs := bitset.New(4096)
	for i := uint(1); i < 4096; i++ {
		bs.Set(i)
	}

	var enc lbitset.Encoder
	b := enc.Append(nil, bs)
	require.Less(t, len(b), 4096/8)
}

func TestDecoder_errors(t *testing.T) {
	t.Parallel()

	var dec lbitset.Decoder

	_, err := dec.Read(nil, bitset.New(8))
	require.ErrorIs(t, err, lbitset.ErrShortBuffer)

	// Raw encoding with too few bytes.
	_, err = dec.Read([]byte{0, 1, 2}, bitset.New(64))
	require.ErrorIs(t, err, lbitset.ErrShortBuffer)

	// Index encoding pointing past the end.
	_, err = dec.Read([]byte{2, 1, 9}, bitset.New(8))
	require.Error(t, err)

	_, err = dec.Read([]byte{7}, bitset.New(8))
	require.Error(t, err)
}
