package lsl_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/lsl"
	"github.com/gordian-engine/lsl/lsltest"
	"github.com/stretchr/testify/require"
)

func newInlet(t *testing.T, eng *lsltest.Engine, si *lsl.StreamInfo) *lsl.StreamInlet {
	t.Helper()

	in, err := lsl.NewStreamInlet(eng, si, 360, 0, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = in.Close() })
	return in
}

func TestPushPull_roundTrip(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	o := newOutlet(t, eng, newEEGInfo(t), 0)

	found, err := lsl.ResolveByProp(eng, "type", "EEG", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "src-1", found[0].SourceID())

	in := newInlet(t, eng, found[0])
	require.NoError(t, in.OpenStream(time.Second))

	require.NoError(t, lsl.PushChunkEx(o, [][]float32{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
	}, 100.0, true))

	samples, stamps, err := lsl.PullChunk[float32](in)
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}}, samples)
	require.Len(t, stamps, 3)
	require.InDelta(t, 99.992, stamps[0], 1e-9)
	require.InDelta(t, 99.996, stamps[1], 1e-9)
	require.InDelta(t, 100.0, stamps[2], 1e-9)
}

func TestPullSample_convertsValues(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	o := newOutlet(t, eng, newEEGInfo(t), 0)
	in := newInlet(t, eng, o.Info())
	require.NoError(t, in.OpenStream(time.Second))

	require.NoError(t, lsl.PushSampleEx(o, []float32{1.5, -2, 3, 4}, 10, true))
	require.NoError(t, lsl.PushSampleEx(o, []float32{1, 2, 3, 4}, 11, true))

	got, ts, err := lsl.PullSample[float64](in, time.Second)
	require.NoError(t, err)
	require.Equal(t, []float64{1.5, -2, 3, 4}, got)
	require.Equal(t, 10.0, ts)

	strs, ts, err := lsl.PullSample[string](in, time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3", "4"}, strs)
	require.Equal(t, 11.0, ts)
}

func TestPullSample_timeout(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	o := newOutlet(t, eng, newEEGInfo(t), 0)
	in := newInlet(t, eng, o.Info())

	got, ts, err := lsl.PullSample[float32](in, 0)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Zero(t, ts)

	got, ts, err = lsl.PullSample[float32](in, 20*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Zero(t, ts)
}

func TestPullSampleBuf(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	o := newOutlet(t, eng, newEEGInfo(t), 0)
	in := newInlet(t, eng, o.Info())
	require.NoError(t, in.OpenStream(time.Second))

	// Nothing to pull leaves the buffer sized but untouched.
	buf, ts, err := lsl.PullSampleBuf(in, []int32{7}, 0)
	require.NoError(t, err)
	require.Zero(t, ts)
	require.Len(t, buf, 4)
	require.Equal(t, int32(7), buf[0])

	require.NoError(t, lsl.PushSampleEx(o, []int32{1, 2, 3, 4}, 5, true))

	buf, ts, err = lsl.PullSampleBuf(in, buf, time.Second)
	require.NoError(t, err)
	require.Equal(t, 5.0, ts)
	require.Equal(t, []int32{1, 2, 3, 4}, buf)
}

func TestPullChunk(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	o := newOutlet(t, eng, newEEGInfo(t), 0)
	in := newInlet(t, eng, o.Info())
	require.NoError(t, in.OpenStream(time.Second))

	samples, stamps, err := lsl.PullChunk[float32](in)
	require.NoError(t, err)
	require.Empty(t, samples)
	require.Empty(t, stamps)

	const m = 5
	for k := range m {
		require.NoError(t, lsl.PushSampleEx(o, []float32{float32(k), 0, 0, 0}, float64(k+1), true))
	}
	require.Equal(t, m, in.SamplesAvailable())

	samples, stamps, err = lsl.PullChunk[float32](in)
	require.NoError(t, err)
	require.Len(t, samples, m)
	require.Equal(t, []float64{1, 2, 3, 4, 5}, stamps)
	require.Equal(t, float32(4), samples[4][0])
	require.Zero(t, in.SamplesAvailable())
}

func TestStreamInlet_Info(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	si := newEEGInfo(t)
	si.Desc().AppendChild("channels").AppendChild("channel").AppendChildValue("label", "C3")
	o := newOutlet(t, eng, si, 0)

	found, err := lsl.ResolveByProp(eng, "name", "S1", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, found, 1)

	// Resolution carries no description.
	require.True(t, found[0].Desc().FirstChild().Empty())

	in := newInlet(t, eng, found[0])
	full, err := in.Info(time.Second)
	require.NoError(t, err)
	require.Equal(t, o.Info().UID(), full.UID())
	require.Equal(t, "C3", full.Desc().Child("channels").Child("channel").ChildValueNamed("label"))
}

func TestStreamInlet_TimeCorrection(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	eng.Offset = -3.25
	o := newOutlet(t, eng, newEEGInfo(t), 0)
	in := newInlet(t, eng, o.Info())

	offset, err := in.TimeCorrection(time.Second)
	require.NoError(t, err)
	require.Equal(t, -3.25, offset)

	offset, _, uncertainty, err := in.TimeCorrectionEx(time.Second)
	require.NoError(t, err)
	require.Equal(t, -3.25, offset)
	require.GreaterOrEqual(t, uncertainty, 0.0)
}

func TestStreamInlet_SetPostprocessing(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	eng.Offset = 2
	o := newOutlet(t, eng, newEEGInfo(t), 0)
	in := newInlet(t, eng, o.Info())
	require.NoError(t, in.OpenStream(time.Second))

	in.SetPostprocessing(lsl.PostClockSync, lsl.PostMonotonize)

	require.NoError(t, lsl.PushSampleEx(o, []float32{0, 0, 0, 0}, 10, true))
	require.NoError(t, lsl.PushSampleEx(o, []float32{0, 0, 0, 0}, 9, true))

	_, ts, err := lsl.PullSample[float32](in, time.Second)
	require.NoError(t, err)
	require.Equal(t, 12.0, ts)

	// Monotonize holds the earlier timestamp.
	_, ts, err = lsl.PullSample[float32](in, time.Second)
	require.NoError(t, err)
	require.Equal(t, 12.0, ts)

	// Turning everything off returns ground truth again.
	in.SetPostprocessing()
	require.NoError(t, lsl.PushSampleEx(o, []float32{0, 0, 0, 0}, 9, true))
	_, ts, err = lsl.PullSample[float32](in, time.Second)
	require.NoError(t, err)
	require.Equal(t, 9.0, ts)

	require.Panics(t, func() { in.SetPostprocessing(lsl.ProcessingOption(64)) })
}

func TestStreamInlet_CloseStream(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	o := newOutlet(t, eng, newEEGInfo(t), 0)
	in := newInlet(t, eng, o.Info())
	require.NoError(t, in.OpenStream(time.Second))

	require.NoError(t, lsl.PushSample(o, []float32{1, 2, 3, 4}))
	require.Equal(t, 1, in.SamplesAvailable())

	in.CloseStream()
	require.Zero(t, in.SamplesAvailable())
	require.False(t, o.HaveConsumers())

	// Pulling subscribes again.
	_, _, err := lsl.PullSample[float32](in, 0)
	require.NoError(t, err)
	require.True(t, o.HaveConsumers())
}

func TestStreamInlet_lostStream(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	o, err := lsl.NewStreamOutlet(eng, newEEGInfo(t), 0, 360)
	require.NoError(t, err)
	in := newInlet(t, eng, o.Info())
	require.NoError(t, in.OpenStream(time.Second))

	require.NoError(t, o.Close())

	_, _, err = lsl.PullSample[float32](in, time.Second)
	require.ErrorIs(t, err, lsl.ErrStreamLost)

	_, _, err = lsl.PullChunk[float32](in)
	require.ErrorIs(t, err, lsl.ErrStreamLost)

	_, err = in.Info(time.Second)
	require.ErrorIs(t, err, lsl.ErrStreamLost)

	// Loss is permanent.
	require.ErrorIs(t, in.OpenStream(time.Second), lsl.ErrStreamLost)
}

func TestNewStreamInlet_invalid(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()

	_, err := lsl.NewStreamInlet(eng, newEEGInfo(t), -1, 0, false)
	require.ErrorIs(t, err, lsl.ErrBadArgument)

	_, err = lsl.NewStreamInlet(eng, newEEGInfo(t), 360, -1, false)
	require.ErrorIs(t, err, lsl.ErrBadArgument)

	// A declaration that was never published cannot be subscribed to.
	_, err = lsl.NewStreamInlet(eng, newEEGInfo(t), 360, 0, false)
	require.ErrorIs(t, err, lsl.ErrBadArgument)
}

func TestStreamInlet_Close(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	o := newOutlet(t, eng, newEEGInfo(t), 0)
	in, err := lsl.NewStreamInlet(eng, o.Info(), 360, 0, false)
	require.NoError(t, err)
	require.NoError(t, in.OpenStream(time.Second))

	require.NoError(t, in.Close())
	require.NoError(t, in.Close())
	require.False(t, o.HaveConsumers())

	require.Panics(t, func() { _, _, _ = lsl.PullSample[float32](in, 0) })
	require.Panics(t, func() { in.SamplesAvailable() })
}
