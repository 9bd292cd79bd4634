package lsl

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gordian-engine/lsl/lengine"
	"github.com/gordian-engine/lsl/lformat"
)

// StreamOutlet publishes samples of one stream.
// The stream is discoverable from construction until [StreamOutlet.Close].
//
// Samples are pushed with the generic functions
// [PushSample], [PushSampleEx], [PushChunk], [PushChunkEx],
// [PushChunkStamped] and [PushChunkStampedEx].
//
// Using an outlet after Close panics.
type StreamOutlet struct {
	e lengine.Engine
	o lengine.Outlet

	channelCount int
	nominalSrate float64
	format       ChannelFormat

	closed atomic.Bool
}

// NewStreamOutlet publishes the stream declared by info on e.
//
// chunkSize is the number of samples per transmitted chunk;
// zero lets every push decide through its pushthrough flag.
// maxBuffered bounds the data held for each consumer,
// in seconds for regular streams and in hundreds of samples for irregular ones.
func NewStreamOutlet(e lengine.Engine, info *StreamInfo, chunkSize, maxBuffered int) (*StreamOutlet, error) {
	switch {
	case chunkSize < 0 || maxBuffered < 0:
		return nil, badArgument("chunk size %d and max buffered %d must not be negative", chunkSize, maxBuffered)
	case info.ChannelCount() < 0 || info.ChannelCount() > math.MaxInt32:
		return nil, badArgument("channel count %d out of range", info.ChannelCount())
	case info.NominalSrate() < 0:
		return nil, badArgument("nominal rate %v must not be negative", info.NominalSrate())
	case !info.ChannelFormat().Valid():
		return nil, badArgument("channel format %s cannot be transmitted", info.ChannelFormat())
	}

	o, err := e.NewOutlet(info.info, chunkSize, maxBuffered)
	if err != nil {
		return nil, creationError("create outlet", err)
	}

	return &StreamOutlet{
		e: e,
		o: o,

		channelCount: info.ChannelCount(),
		nominalSrate: info.NominalSrate(),
		format:       info.ChannelFormat(),
	}, nil
}

func (o *StreamOutlet) mustOpen() {
	if o.closed.Load() {
		panic(errors.New("ILLEGAL: use of closed StreamOutlet"))
	}
}

// Info returns the published declaration, including its hosting fields.
func (o *StreamOutlet) Info() *StreamInfo {
	o.mustOpen()
	return &StreamInfo{info: o.o.Info()}
}

// HaveConsumers reports whether any inlet is currently subscribed.
func (o *StreamOutlet) HaveConsumers() bool {
	o.mustOpen()
	return o.o.HaveConsumers()
}

// WaitForConsumers blocks until an inlet subscribes or the timeout expires,
// and reports whether an inlet subscribed.
func (o *StreamOutlet) WaitForConsumers(timeout time.Duration) bool {
	o.mustOpen()
	ctx, cancel := timeoutContext(timeout)
	defer cancel()
	return o.o.WaitForConsumers(ctx)
}

// Close makes the stream undiscoverable and disconnects its inlets.
// Closing an outlet more than once has no effect.
func (o *StreamOutlet) Close() error {
	if o.closed.Swap(true) {
		return nil
	}
	return engineError("close outlet", o.o.Close())
}

func (o *StreamOutlet) checkLen(n int) {
	if n != o.channelCount {
		panic(fmt.Errorf(
			"ILLEGAL: pushed %d values into an outlet of %d channels", n, o.channelCount,
		))
	}
}

func (o *StreamOutlet) push(s *lformat.Sample, timestamp float64, pushthrough bool) error {
	if timestamp == 0 {
		timestamp = o.e.LocalClock()
	}
	return engineError("push sample", o.o.PushSample(s, timestamp, pushthrough))
}

// PushSample pushes one sample stamped with the current time
// and flushes it to the inlets.
//
// The number of values must equal the channel count; PushSample panics otherwise.
func PushSample[T Value](o *StreamOutlet, values []T) error {
	return PushSampleEx(o, values, 0, true)
}

// PushSampleEx pushes one sample.
//
// A timestamp of zero means the current time;
// [DeducedTimestamp] derives it from the previous sample and the nominal rate.
// A nonzero chunk size of the outlet overrides pushthrough.
func PushSampleEx[T Value](o *StreamOutlet, values []T, timestamp float64, pushthrough bool) error {
	o.mustOpen()
	o.checkLen(len(values))

	s := lformat.NewSample(o.format, o.channelCount)
	lformat.Put(s, values)
	return o.push(s, timestamp, pushthrough)
}

// PushChunk pushes samples whose last sample was taken now,
// and flushes them to the inlets.
func PushChunk[T Value](o *StreamOutlet, samples [][]T) error {
	return PushChunkEx(o, samples, 0, true)
}

// PushChunkEx pushes samples given the timestamp of the last one,
// or zero for the current time.
//
// The timestamps of earlier samples follow from the nominal rate:
// sample k of n is stamped timestamp - (n-1-k)/rate,
// and every sample of an irregular stream gets timestamp.
// Only the last sample carries pushthrough.
func PushChunkEx[T Value](o *StreamOutlet, samples [][]T, timestamp float64, pushthrough bool) error {
	o.mustOpen()
	if len(samples) == 0 {
		return nil
	}
	for _, vs := range samples {
		o.checkLen(len(vs))
	}

	if timestamp == 0 {
		timestamp = o.e.LocalClock()
	}
	maxK := len(samples) - 1
	if o.nominalSrate != IrregularRate {
		timestamp -= float64(maxK) / o.nominalSrate
	}

	s := lformat.NewSample(o.format, o.channelCount)
	lformat.Put(s, samples[0])
	if err := o.push(s, timestamp, pushthrough && maxK == 0); err != nil {
		return err
	}

	for k := 1; k <= maxK; k++ {
		lformat.Put(s, samples[k])
		if err := o.push(s, DeducedTimestamp, pushthrough && k == maxK); err != nil {
			return err
		}
	}
	return nil
}

// PushChunkStamped pushes samples with one timestamp each
// and flushes them to the inlets.
func PushChunkStamped[T Value](o *StreamOutlet, samples [][]T, timestamps []float64) error {
	return PushChunkStampedEx(o, samples, timestamps, true)
}

// PushChunkStampedEx pushes samples with one timestamp each.
// Only the last sample carries pushthrough.
//
// PushChunkStampedEx panics if the lengths of samples and timestamps differ.
func PushChunkStampedEx[T Value](o *StreamOutlet, samples [][]T, timestamps []float64, pushthrough bool) error {
	o.mustOpen()
	if len(samples) != len(timestamps) {
		panic(fmt.Errorf(
			"ILLEGAL: pushed %d samples with %d timestamps", len(samples), len(timestamps),
		))
	}
	for _, vs := range samples {
		o.checkLen(len(vs))
	}

	s := lformat.NewSample(o.format, o.channelCount)
	last := len(samples) - 1
	for k, vs := range samples {
		lformat.Put(s, vs)
		if err := o.push(s, timestamps[k], pushthrough && k == last); err != nil {
			return err
		}
	}
	return nil
}

