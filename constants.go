package lsl

import (
	"context"
	"time"

	"github.com/gordian-engine/lsl/lclock"
	"github.com/gordian-engine/lsl/lformat"
	"github.com/gordian-engine/lsl/lpost"
)

// IrregularRate is the nominal rate of streams without a regular sampling rate,
// such as event markers.
const IrregularRate = 0.0

// DeducedTimestamp may be pushed in place of a timestamp;
// the sample's time is then deduced from the previous sample and the nominal rate.
const DeducedTimestamp = -1.0

// Forever is a timeout that never expires.
const Forever = 32_000_000 * time.Second

// LocalClock returns the local clock in seconds.
// All timestamps of a stream are relative to its host's LocalClock.
func LocalClock() float64 {
	return lclock.Now()
}

// ChannelFormat is the value format of every channel of a stream.
type ChannelFormat = lformat.ChannelFormat

const (
	Float32   = lformat.Float32
	Double64  = lformat.Double64
	String    = lformat.String
	Int32     = lformat.Int32
	Int16     = lformat.Int16
	Int8      = lformat.Int8
	Int64     = lformat.Int64
	Undefined = lformat.Undefined
)

// Value is the set of Go types that can be pushed and pulled.
type Value = lformat.Value

// ProcessingOption is a timestamp post-processing flag of an inlet.
type ProcessingOption = lpost.Flags

const (
	PostNone       = lpost.None
	PostClockSync  = lpost.ClockSync
	PostDejitter   = lpost.Dejitter
	PostMonotonize = lpost.Monotonize
	PostThreadsafe = lpost.Threadsafe
	PostAll        = lpost.All
)

// timeoutContext returns a context that expires after d,
// or never if d is at least Forever.
// A non-positive d yields an already expired context.
func timeoutContext(d time.Duration) (context.Context, context.CancelFunc) {
	if d >= Forever {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}
