package lsl_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/lsl"
	"github.com/gordian-engine/lsl/lsltest"
	"github.com/stretchr/testify/require"
)

func TestResolveStreams(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	newOutlet(t, eng, newEEGInfo(t), 0)

	markers, err := lsl.NewStreamInfo("Events", "Markers", 1, lsl.IrregularRate, lsl.String, "")
	require.NoError(t, err)
	newOutlet(t, eng, markers, 0)

	all, err := lsl.ResolveStreams(eng, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, all, 2)

	found, err := lsl.ResolveByProp(eng, "type", "Markers", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "Events", found[0].Name())
	require.NotEmpty(t, found[0].UID())

	found, err = lsl.ResolveByPred(eng, "starts-with(name,'S') and channel_count=4", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "S1", found[0].Name())
}

func TestResolveByProp_noMatch(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	newOutlet(t, eng, newEEGInfo(t), 0)

	// An expired wait is not an error.
	found, err := lsl.ResolveByProp(eng, "type", "Audio", 1, 20*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestResolve_invalidArguments(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()

	_, err := lsl.ResolveByProp(eng, "type", "EEG", -1, 0)
	require.ErrorIs(t, err, lsl.ErrBadArgument)

	_, err = lsl.ResolveByProp(eng, "ty\x00pe", "EEG", 1, 0)
	require.ErrorIs(t, err, lsl.ErrBadArgument)

	_, err = lsl.ResolveByPred(eng, "type='EEG", 1, 0)
	require.ErrorIs(t, err, lsl.ErrBadArgument)
}

func TestContinuousResolver(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()

	r, err := lsl.NewContinuousResolverByProp(eng, "type", "EEG", 100*time.Millisecond)
	require.NoError(t, err)
	defer r.Close()

	require.Empty(t, r.Results())

	o, err := lsl.NewStreamOutlet(eng, newEEGInfo(t), 0, 360)
	require.NoError(t, err)

	res := r.Results()
	require.Len(t, res, 1)
	require.Equal(t, "S1", res[0].Name())

	// A closed stream is still reported until it is forgotten.
	require.NoError(t, o.Close())
	require.Len(t, r.Results(), 1)

	require.Eventually(t, func() bool {
		return len(r.Results()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestContinuousResolver_query(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	newOutlet(t, eng, newEEGInfo(t), 0)

	all, err := lsl.NewContinuousResolver(eng, 5*time.Second)
	require.NoError(t, err)
	defer all.Close()
	require.Len(t, all.Results(), 1)

	none, err := lsl.NewContinuousResolverByPred(eng, "channel_count > 8", 5*time.Second)
	require.NoError(t, err)
	defer none.Close()
	require.Empty(t, none.Results())
}

func TestNewContinuousResolver_invalid(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()

	_, err := lsl.NewContinuousResolver(eng, 0)
	require.ErrorIs(t, err, lsl.ErrBadArgument)

	_, err = lsl.NewContinuousResolverByPred(eng, "name=", time.Second)
	require.ErrorIs(t, err, lsl.ErrBadArgument)

	_, err = lsl.NewContinuousResolverByProp(eng, "name", "a\x00", time.Second)
	require.ErrorIs(t, err, lsl.ErrBadArgument)
}

func TestResolveByProp_quotedValue(t *testing.T) {
	t.Parallel()

	eng := lsltest.NewEngine()
	si, err := lsl.NewStreamInfo("O'Brien", "EEG", 1, 100, lsl.Float32, "")
	require.NoError(t, err)
	newOutlet(t, eng, si, 0)

	found, err := lsl.ResolveByProp(eng, "name", "O'Brien", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "O'Brien", found[0].Name())
}
