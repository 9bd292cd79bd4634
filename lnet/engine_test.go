package lnet_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/lsl/internal/lproto"
	"github.com/gordian-engine/lsl/internal/ltest"
	"github.com/gordian-engine/lsl/lengine"
	"github.com/gordian-engine/lsl/lformat"
	"github.com/gordian-engine/lsl/linfo"
	"github.com/gordian-engine/lsl/lnet/lnettest"
)

func mustQuery(t *testing.T, pred string) *linfo.Query {
	t.Helper()
	q, err := linfo.CompileQuery(pred)
	require.NoError(t, err)
	return q
}

func float32Sample(vs ...float32) *lformat.Sample {
	s := lformat.NewSample(lformat.Float32, len(vs))
	lformat.Put(s, vs)
	return s
}

// resolveOne resolves the single stream with the given name from e.
func resolveOne(t *testing.T, ctx context.Context, e lengine.Engine, name string) *linfo.Info {
	t.Helper()

	rctx, cancel := context.WithTimeout(ctx, ltest.ScaleDuration)
	defer cancel()

	found, err := e.Resolve(rctx, mustQuery(t, linfo.PropQuery("name", name)), 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	return found[0]
}

func TestEngine_Resolve(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)
	host := lNet.Engines[0]

	o, err := host.Engine.NewOutlet(linfo.New("eeg", "EEG", 8, 250, lformat.Float32, "amp-1"), 0, 360)
	require.NoError(t, err)
	defer o.Close()

	_, err = host.Engine.NewOutlet(linfo.New("markers", "Markers", 1, 0, lformat.String, ""), 0, 360)
	require.NoError(t, err)

	got := resolveOne(t, ctx, lNet.Engines[1].Engine, "eeg")

	hosted := o.Info()
	require.Equal(t, hosted.UID, got.UID)
	require.Equal(t, "EEG", got.Type)
	require.Equal(t, 8, got.ChannelCount)
	require.Equal(t, 250.0, got.NominalSrate)
	require.Equal(t, lformat.Float32, got.ChannelFormat)
	require.Equal(t, "amp-1", got.SourceID)
	require.Equal(t, "engine-0", got.Hostname)
	require.Equal(t, lproto.ProtocolVersion, got.Version)
	require.Equal(t, "127.0.0.1", got.V4Address)
	require.Equal(t, host.Data.LocalAddr().(*net.UDPAddr).Port, got.V4DataPort)
	require.Equal(t, host.Discovery.LocalAddr().(*net.UDPAddr).Port, got.V4ServicePort)

	// The description is not part of discovery responses.
	require.Nil(t, linfo.FirstChild(got.Desc()))

	// Waiting for more streams than exist returns what was found at the deadline.
	rctx, rcancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer rcancel()
	all, err := lNet.Engines[1].Engine.Resolve(rctx, mustQuery(t, ""), 5)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.Greater(t, testutil.ToFloat64(lNet.Engines[1].Engine.Metrics().ResolveQueries), 0.0)
	require.Greater(t, testutil.ToFloat64(host.Engine.Metrics().QueriesAnswered), 0.0)
}

func TestEngine_Resolve_closedOutletDisappears(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)

	o, err := lNet.Engines[0].Engine.NewOutlet(linfo.New("gone", "Test", 1, 10, lformat.Double64, ""), 0, 1)
	require.NoError(t, err)
	require.NoError(t, o.Close())

	rctx, rcancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer rcancel()
	found, err := lNet.Engines[1].Engine.Resolve(rctx, mustQuery(t, "name='gone'"), 1)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestEngine_pushPull(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)
	host := lNet.Engines[0].Engine

	o, err := host.NewOutlet(linfo.New("pp", "Test", 2, 100, lformat.Float32, "pp-src"), 0, 360)
	require.NoError(t, err)
	defer o.Close()

	require.False(t, o.HaveConsumers())

	info := resolveOne(t, ctx, lNet.Engines[1].Engine, "pp")
	in, err := lNet.Engines[1].Engine.NewInlet(info, 360, 0, false)
	require.NoError(t, err)
	defer in.Close()

	octx, ocancel := context.WithTimeout(ctx, ltest.ScaleDuration)
	defer ocancel()
	require.NoError(t, in.OpenStream(octx))
	require.True(t, o.WaitForConsumers(octx))
	require.True(t, o.HaveConsumers())

	require.NoError(t, o.PushSample(float32Sample(1, 2), 10, false))
	require.NoError(t, o.PushSample(float32Sample(3, 4), -1, false))
	require.NoError(t, o.PushSample(float32Sample(5, 6), -1, true))

	wantTS := []float64{10, lproto.NextTimestamp(10, 100)}
	wantTS = append(wantTS, lproto.NextTimestamp(wantTS[1], 100))
	wantVals := [][]float32{{1, 2}, {3, 4}, {5, 6}}

	for i := range 3 {
		pctx, pcancel := context.WithTimeout(ctx, ltest.ScaleDuration)
		s, ts, err := in.PullSample(pctx)
		pcancel()
		require.NoError(t, err)
		require.NotNil(t, s)
		require.Equal(t, wantTS[i], ts)
		require.Equal(t, wantVals[i], lformat.Get[float32](s, nil))
	}

	// Nothing left: an expired context yields no sample and no error.
	pctx, pcancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer pcancel()
	s, ts, err := in.PullSample(pctx)
	require.NoError(t, err)
	require.Nil(t, s)
	require.Zero(t, ts)

	require.Equal(t, 3.0, testutil.ToFloat64(host.Metrics().SamplesPushed))
	require.Equal(t, 3.0, testutil.ToFloat64(host.Metrics().SamplesSent))
	require.Equal(t, 3.0, testutil.ToFloat64(lNet.Engines[1].Engine.Metrics().SamplesReceived))
	require.Equal(t, 1.0, testutil.ToFloat64(host.Metrics().Consumers))

	in.CloseStream()
	ltest.Eventually(t, func() bool { return !o.HaveConsumers() }, "consumer still registered")
}

func TestEngine_pushPull_chunkSize(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)
	e := lNet.Engines[0].Engine
	sub := lNet.Engines[1].Engine

	// With a chunk size, pushthrough is ignored
	// and every third sample flushes the chunk.
	o, err := e.NewOutlet(linfo.New("chunks", "Test", 1, 0, lformat.Int32, ""), 3, 10)
	require.NoError(t, err)
	defer o.Close()

	in, err := sub.NewInlet(resolveOne(t, ctx, sub, "chunks"), 10, 0, false)
	require.NoError(t, err)
	defer in.Close()

	octx, ocancel := context.WithTimeout(ctx, ltest.ScaleDuration)
	defer ocancel()
	require.NoError(t, in.OpenStream(octx))

	for i := range 2 {
		s := lformat.NewSample(lformat.Int32, 1)
		lformat.Put(s, []int32{int32(i)})
		require.NoError(t, o.PushSample(s, float64(i), true))
	}

	// Held back until the chunk is full.
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, in.SamplesAvailable())

	s := lformat.NewSample(lformat.Int32, 1)
	lformat.Put(s, []int32{2})
	require.NoError(t, o.PushSample(s, 2, false))

	ltest.Eventually(t, func() bool { return in.SamplesAvailable() == 3 })
	for i := range 3 {
		got, ts, err := in.PullSample(octx)
		require.NoError(t, err)
		require.Equal(t, float64(i), ts)
		require.Equal(t, []int32{int32(i)}, lformat.Get[int32](got, nil))
	}
}

func TestEngine_stringSamples(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)

	o, err := lNet.Engines[0].Engine.NewOutlet(linfo.New("markers", "Markers", 2, 0, lformat.String, ""), 0, 1)
	require.NoError(t, err)
	defer o.Close()

	in, err := lNet.Engines[1].Engine.NewInlet(resolveOne(t, ctx, lNet.Engines[1].Engine, "markers"), 1, 0, false)
	require.NoError(t, err)
	defer in.Close()

	octx, ocancel := context.WithTimeout(ctx, ltest.ScaleDuration)
	defer ocancel()
	require.NoError(t, in.OpenStream(octx))

	s := lformat.NewSample(lformat.String, 2)
	lformat.Put(s, []string{"start", ""})
	require.NoError(t, o.PushSample(s, 1.5, true))

	got, ts, err := in.PullSample(octx)
	require.NoError(t, err)
	require.Equal(t, 1.5, ts)
	require.Equal(t, []string{"start", ""}, lformat.Get[string](got, nil))
}

func TestEngine_FullInfo(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)

	decl := linfo.New("described", "EEG", 2, 500, lformat.Double64, "dev")
	chans := linfo.AppendChild(decl.Desc(), "channels")
	for _, label := range []string{"C3", "C4"} {
		linfo.AppendChildValue(linfo.AppendChild(chans, "channel"), "label", label)
	}

	o, err := lNet.Engines[0].Engine.NewOutlet(decl, 0, 1)
	require.NoError(t, err)
	defer o.Close()

	in, err := lNet.Engines[1].Engine.NewInlet(resolveOne(t, ctx, lNet.Engines[1].Engine, "described"), 1, 0, false)
	require.NoError(t, err)
	defer in.Close()

	fctx, fcancel := context.WithTimeout(ctx, ltest.ScaleDuration)
	defer fcancel()
	full, err := in.FullInfo(fctx)
	require.NoError(t, err)

	require.Equal(t, o.Info().UID, full.UID)
	require.Equal(t, "127.0.0.1", full.V4Address)

	ch := linfo.Child(linfo.Child(full.Desc(), "channels"), "channel")
	require.Equal(t, "C3", linfo.ChildValueNamed(ch, "label"))
	require.Equal(t, "C4", linfo.ChildValueNamed(linfo.NextSibling(ch), "label"))
}

func TestEngine_TimeCorrection(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)

	o, err := lNet.Engines[0].Engine.NewOutlet(linfo.New("clock", "Test", 1, 1, lformat.Float32, ""), 0, 1)
	require.NoError(t, err)
	defer o.Close()

	in, err := lNet.Engines[1].Engine.NewInlet(resolveOne(t, ctx, lNet.Engines[1].Engine, "clock"), 1, 0, false)
	require.NoError(t, err)
	defer in.Close()

	tctx, tcancel := context.WithTimeout(ctx, ltest.ScaleDuration)
	defer tcancel()
	tc, err := in.TimeCorrection(tctx)
	require.NoError(t, err)

	// Both engines read the same clock.
	require.InDelta(t, 0, tc.Offset, 0.01)
	require.GreaterOrEqual(t, tc.Uncertainty, 0.0)
	require.Less(t, tc.Uncertainty, 0.1)
	require.InDelta(t, lNet.Engines[1].Engine.LocalClock(), tc.RemoteTime, 1)

	require.False(t, in.WasClockReset())
}

func TestEngine_lostStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)

	o, err := lNet.Engines[0].Engine.NewOutlet(linfo.New("lost", "Test", 1, 10, lformat.Float32, "lost-src"), 0, 1)
	require.NoError(t, err)

	in, err := lNet.Engines[1].Engine.NewInlet(resolveOne(t, ctx, lNet.Engines[1].Engine, "lost"), 1, 0, false)
	require.NoError(t, err)
	defer in.Close()

	octx, ocancel := context.WithTimeout(ctx, ltest.ScaleDuration)
	defer ocancel()
	require.NoError(t, in.OpenStream(octx))

	require.NoError(t, o.Close())

	// Pushing into a closed outlet fails.
	err = o.PushSample(float32Sample(1), 1, true)
	code, ok := lengine.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, lengine.Lost, code)

	_, _, err = in.PullSample(octx)
	code, ok = lengine.CodeOf(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, lengine.Lost, code)

	// The loss is permanent.
	_, _, err = in.PullSample(octx)
	code, _ = lengine.CodeOf(err)
	require.Equal(t, lengine.Lost, code)
	require.Error(t, in.OpenStream(octx))
}

func TestEngine_recoverStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)
	host := lNet.Engines[0].Engine

	decl := linfo.New("phoenix", "Test", 1, 0, lformat.Float32, "phoenix-src")
	o1, err := host.NewOutlet(decl, 0, 1)
	require.NoError(t, err)

	in, err := lNet.Engines[1].Engine.NewInlet(resolveOne(t, ctx, lNet.Engines[1].Engine, "phoenix"), 1, 0, true)
	require.NoError(t, err)
	defer in.Close()

	pctx, pcancel := context.WithTimeout(ctx, 2*ltest.ScaleDuration)
	defer pcancel()
	require.NoError(t, in.OpenStream(pctx))

	require.NoError(t, o1.PushSample(float32Sample(1), 1, true))
	s, _, err := in.PullSample(pctx)
	require.NoError(t, err)
	require.Equal(t, []float32{1}, lformat.Get[float32](s, nil))

	require.NoError(t, o1.Close())

	// A new instance of the same source.
	o2, err := host.NewOutlet(decl, 0, 1)
	require.NoError(t, err)
	defer o2.Close()
	require.NotEqual(t, o1.Info().UID, o2.Info().UID)

	require.True(t, o2.WaitForConsumers(pctx))
	require.NoError(t, o2.PushSample(float32Sample(2), 2, true))

	s, ts, err := in.PullSample(pctx)
	require.NoError(t, err)
	require.Equal(t, 2.0, ts)
	require.Equal(t, []float32{2}, lformat.Get[float32](s, nil))

	full, err := in.FullInfo(pctx)
	require.NoError(t, err)
	require.Equal(t, o2.Info().UID, full.UID)
}

func TestEngine_recoverStream_quotedName(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)
	host := lNet.Engines[0].Engine

	const name = `O'Brien "Lab"`
	decl := linfo.New(name, "Test", 1, 0, lformat.Float32, "obrien-src")
	o1, err := host.NewOutlet(decl, 0, 1)
	require.NoError(t, err)

	in, err := lNet.Engines[1].Engine.NewInlet(resolveOne(t, ctx, lNet.Engines[1].Engine, name), 1, 0, true)
	require.NoError(t, err)
	defer in.Close()

	pctx, pcancel := context.WithTimeout(ctx, 2*ltest.ScaleDuration)
	defer pcancel()
	require.NoError(t, in.OpenStream(pctx))
	require.NoError(t, o1.Close())

	o2, err := host.NewOutlet(decl, 0, 1)
	require.NoError(t, err)
	defer o2.Close()

	// The recovery query finds the new instance despite the quotes.
	require.True(t, o2.WaitForConsumers(pctx))
	require.NoError(t, o2.PushSample(float32Sample(3), 3, true))

	s, ts, err := in.PullSample(pctx)
	require.NoError(t, err)
	require.Equal(t, 3.0, ts)
	require.Equal(t, []float32{3}, lformat.Get[float32](s, nil))
}

func TestEngine_lostStream_quotedName(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)

	const name = "O'Brien"
	o, err := lNet.Engines[0].Engine.NewOutlet(linfo.New(name, "Test", 1, 10, lformat.Float32, "obrien-src"), 0, 1)
	require.NoError(t, err)

	in, err := lNet.Engines[1].Engine.NewInlet(resolveOne(t, ctx, lNet.Engines[1].Engine, name), 1, 0, false)
	require.NoError(t, err)
	defer in.Close()

	octx, ocancel := context.WithTimeout(ctx, ltest.ScaleDuration)
	defer ocancel()
	require.NoError(t, in.OpenStream(octx))

	require.NoError(t, o.Close())

	// The pull ends with the loss instead of waiting out its deadline.
	_, _, err = in.PullSample(octx)
	code, ok := lengine.CodeOf(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, lengine.Lost, code)
	require.NoError(t, octx.Err())
}

func TestEngine_NewResolver(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 2)

	r, err := lNet.Engines[1].Engine.NewResolver(mustQuery(t, "type='Cont'"), 300*time.Millisecond)
	require.NoError(t, err)
	defer r.Close()

	require.Empty(t, r.Results())

	o, err := lNet.Engines[0].Engine.NewOutlet(linfo.New("c", "Cont", 1, 0, lformat.Float32, ""), 0, 1)
	require.NoError(t, err)

	ltest.Eventually(t, func() bool { return len(r.Results()) == 1 }, "stream never resolved")
	require.Equal(t, o.Info().UID, r.Results()[0].UID)

	require.NoError(t, o.Close())
	ltest.Eventually(t, func() bool { return len(r.Results()) == 0 }, "stream never forgotten")

	_, err = lNet.Engines[1].Engine.NewResolver(mustQuery(t, ""), 0)
	code, ok := lengine.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, lengine.Argument, code)
}

func TestEngine_argumentErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 1)
	e := lNet.Engines[0].Engine

	_, err := e.NewOutlet(linfo.New("x", "Test", 1, 0, lformat.Float32, ""), -1, 1)
	code, _ := lengine.CodeOf(err)
	require.Equal(t, lengine.Argument, code)

	// Never resolved, so there is nothing to connect to.
	_, err = e.NewInlet(linfo.New("x", "Test", 1, 0, lformat.Float32, ""), 1, 0, false)
	code, _ = lengine.CodeOf(err)
	require.Equal(t, lengine.Argument, code)

	o, err := e.NewOutlet(linfo.New("x", "Test", 2, 0, lformat.Float32, ""), 0, 1)
	require.NoError(t, err)
	defer o.Close()

	err = o.PushSample(float32Sample(1), 0, false)
	code, _ = lengine.CodeOf(err)
	require.Equal(t, lengine.Argument, code)

	wctx, wcancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer wcancel()
	require.False(t, o.WaitForConsumers(wctx))

	in, err := e.NewInlet(resolveOne(t, ctx, e, "x"), 1, 0, false)
	require.NoError(t, err)
	defer in.Close()

	err = in.SetPostprocessing(1 << 10)
	code, _ = lengine.CodeOf(err)
	require.Equal(t, lengine.Argument, code)
}

func TestEngine_stoppedEngineRejectsWork(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lNet := lnettest.NewNetwork(t, ctx, 1)
	e := lNet.Engines[0].Engine

	cancel()
	lNet.Wait()

	_, err := e.NewOutlet(linfo.New("late", "Test", 1, 0, lformat.Float32, ""), 0, 1)
	code, _ := lengine.CodeOf(err)
	require.Equal(t, lengine.Internal, code)

	_, err = e.Resolve(context.Background(), mustQuery(t, ""), 1)
	code, _ = lengine.CodeOf(err)
	require.Equal(t, lengine.Internal, code)
}
