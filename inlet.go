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

// StreamInlet receives samples of one resolved stream.
//
// Samples are pulled with the generic functions
// [PullSample], [PullSampleBuf] and [PullChunk].
// Unless [PostThreadsafe] is set, an inlet must not be pulled
// from more than one goroutine at a time.
//
// Using an inlet after Close panics.
type StreamInlet struct {
	in lengine.Inlet

	channelCount int

	closed atomic.Bool
}

// NewStreamInlet subscribes to a stream found by resolution.
// No connection is made until the inlet is first used.
//
// maxBuflen bounds the samples held for the caller,
// in seconds for regular streams and in hundreds of samples for irregular ones;
// older samples are dropped when the caller falls behind.
// maxChunklen bounds the samples per transmitted chunk; zero keeps the sender's chunking.
// With recover set, a stream with a source id is re-acquired
// after its source restarts, instead of being reported lost.
func NewStreamInlet(e lengine.Engine, info *StreamInfo, maxBuflen, maxChunklen int, recover bool) (*StreamInlet, error) {
	switch {
	case maxBuflen < 0 || maxChunklen < 0:
		return nil, badArgument("buffer length %d and chunk length %d must not be negative", maxBuflen, maxChunklen)
	case info.ChannelCount() < 0 || info.ChannelCount() > math.MaxInt32:
		return nil, badArgument("channel count %d out of range", info.ChannelCount())
	}

	in, err := e.NewInlet(info.info, maxBuflen, maxChunklen, recover)
	if err != nil {
		return nil, creationError("create inlet", err)
	}

	return &StreamInlet{
		in:           in,
		channelCount: info.ChannelCount(),
	}, nil
}

func (i *StreamInlet) mustOpen() {
	if i.closed.Load() {
		panic(errors.New("ILLEGAL: use of closed StreamInlet"))
	}
}

// Info retrieves the full declaration of the stream, including its description.
func (i *StreamInlet) Info(timeout time.Duration) (*StreamInfo, error) {
	i.mustOpen()
	ctx, cancel := timeoutContext(timeout)
	defer cancel()

	info, err := i.in.FullInfo(ctx)
	if err != nil {
		return nil, engineError("retrieve stream info", err)
	}
	return &StreamInfo{info: info}, nil
}

// OpenStream subscribes to the stream's samples.
// Pulling subscribes implicitly; opening first avoids missing early samples.
func (i *StreamInlet) OpenStream(timeout time.Duration) error {
	i.mustOpen()
	ctx, cancel := timeoutContext(timeout)
	defer cancel()
	return engineError("open stream", i.in.OpenStream(ctx))
}

// CloseStream unsubscribes and discards all buffered samples.
func (i *StreamInlet) CloseStream() {
	i.mustOpen()
	i.in.CloseStream()
}

// TimeCorrection returns the offset to add to the stream's timestamps
// to map them into the local clock domain.
//
// The first call may block until an estimate is available;
// later calls return the periodically refreshed estimate immediately.
func (i *StreamInlet) TimeCorrection(timeout time.Duration) (float64, error) {
	offset, _, _, err := i.TimeCorrectionEx(timeout)
	return offset, err
}

// TimeCorrectionEx is [StreamInlet.TimeCorrection],
// also returning the remote clock when the offset was measured
// and the round trip time of the measurement, which bounds its error.
func (i *StreamInlet) TimeCorrectionEx(timeout time.Duration) (offset, remoteTime, uncertainty float64, err error) {
	i.mustOpen()
	ctx, cancel := timeoutContext(timeout)
	defer cancel()

	tc, err := i.in.TimeCorrection(ctx)
	if err != nil {
		return 0, 0, 0, engineError("time correction", err)
	}
	return tc.Offset, tc.RemoteTime, tc.Uncertainty, nil
}

// SetPostprocessing replaces the post-processing of received timestamps
// with the union of opts.
//
// With ClockSync or Dejitter set, the ground-truth timestamps
// can no longer be recovered from this inlet.
// SetPostprocessing panics if the engine rejects the options.
func (i *StreamInlet) SetPostprocessing(opts ...ProcessingOption) {
	i.mustOpen()

	var f ProcessingOption
	for _, o := range opts {
		f |= o
	}
	if err := i.in.SetPostprocessing(f); err != nil {
		panic(fmt.Errorf("ILLEGAL: engine rejected post-processing options %s: %w", f, err))
	}
}

// SamplesAvailable is the number of samples buffered for pulling.
func (i *StreamInlet) SamplesAvailable() int {
	i.mustOpen()
	return i.in.SamplesAvailable()
}

// WasClockReset reports whether the stream's clock was reset
// since the previous call.
func (i *StreamInlet) WasClockReset() bool {
	i.mustOpen()
	return i.in.WasClockReset()
}

// SmoothingHalftime sets the half-time, in seconds, of dejittering.
func (i *StreamInlet) SmoothingHalftime(seconds float32) {
	i.mustOpen()
	i.in.SmoothingHalftime(seconds)
}

// Close unsubscribes and releases the inlet.
// Closing an inlet more than once has no effect.
func (i *StreamInlet) Close() error {
	if i.closed.Swap(true) {
		return nil
	}
	return engineError("close inlet", i.in.Close())
}

// pull returns the next sample, or a nil sample if none arrived in time.
func (i *StreamInlet) pull(timeout time.Duration) (*lformat.Sample, float64, error) {
	i.mustOpen()
	ctx, cancel := timeoutContext(timeout)
	defer cancel()

	s, ts, err := i.in.PullSample(ctx)
	if err != nil {
		return nil, 0, engineError("pull sample", err)
	}
	return s, ts, nil
}

// PullSample returns the next sample, converted to T, and its timestamp.
//
// A timeout of zero polls without blocking; [Forever] blocks indefinitely.
// If no sample arrives in time, PullSample returns an empty sample,
// a zero timestamp and no error.
func PullSample[T Value](i *StreamInlet, timeout time.Duration) ([]T, float64, error) {
	s, ts, err := i.pull(timeout)
	if err != nil || s == nil {
		return nil, 0, err
	}
	return lformat.Get[T](s, nil), ts, nil
}

// PullSampleBuf is [PullSample] into dst,
// which is resized to the channel count and returned.
// If no sample arrives in time, the values of dst are left unchanged.
func PullSampleBuf[T Value](i *StreamInlet, dst []T, timeout time.Duration) ([]T, float64, error) {
	if cap(dst) < i.channelCount {
		dst = append(dst[:cap(dst)], make([]T, i.channelCount-cap(dst))...)
	}
	dst = dst[:i.channelCount]

	s, ts, err := i.pull(timeout)
	if err != nil || s == nil {
		return dst, 0, err
	}
	return lformat.Get[T](s, dst), ts, nil
}

// PullChunk returns every buffered sample with its timestamp, without blocking.
//
// Samples older than the inlet's buffer length
// are dropped if PullChunk is not called often enough.
func PullChunk[T Value](i *StreamInlet) ([][]T, []float64, error) {
	var (
		samples [][]T
		stamps  []float64
	)
	for {
		s, ts, err := i.pull(0)
		if err != nil {
			return nil, nil, err
		}
		if ts == 0 {
			return samples, stamps, nil
		}
		samples = append(samples, lformat.Get[T](s, nil))
		stamps = append(stamps, ts)
	}
}
