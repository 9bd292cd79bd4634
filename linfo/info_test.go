package linfo_test

import (
	"strings"
	"testing"

	"github.com/gordian-engine/lsl/lformat"
	"github.com/gordian-engine/lsl/linfo"
	"github.com/stretchr/testify/require"
)

func newEEG() *linfo.Info {
	return linfo.New("BioSemi", "EEG", 8, 100, lformat.Float32, "myid234365")
}

func TestInfo_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "(name=BioSemi, type=EEG, fmt=float32, srate=100)", newEEG().String())
}

func TestInfo_XMLRoundTrip(t *testing.T) {
	t.Parallel()

	i := newEEG()
	i.UID = "e3c6d9a0"
	i.Hostname = "host1"
	i.CreatedAt = 1234.5
	i.V4DataPort = 16572

	channels := linfo.AppendChild(i.Desc(), "channels")
	for _, label := range []string{"C3", "C4", "Cz"} {
		ch := linfo.AppendChild(channels, "channel")
		linfo.AppendChildValue(ch, "label", label)
		linfo.AppendChildValue(ch, "unit", "microvolts")
	}
	linfo.AppendChildValue(i.Desc(), "manufacturer", "Bio<Semi> & co")

	xml := i.XML()
	require.True(t, strings.HasPrefix(xml, `<?xml version="1.0"?>`))

	got, err := linfo.Parse(xml)
	require.NoError(t, err)

	require.Equal(t, "BioSemi", got.Name)
	require.Equal(t, "EEG", got.Type)
	require.Equal(t, 8, got.ChannelCount)
	require.Equal(t, 100.0, got.NominalSrate)
	require.Equal(t, lformat.Float32, got.ChannelFormat)
	require.Equal(t, "myid234365", got.SourceID)
	require.Equal(t, "e3c6d9a0", got.UID)
	require.Equal(t, "host1", got.Hostname)
	require.Equal(t, 1234.5, got.CreatedAt)
	require.Equal(t, 16572, got.V4DataPort)

	require.Equal(t, "Bio<Semi> & co", linfo.ChildValueNamed(got.Desc(), "manufacturer"))

	ch := linfo.Child(linfo.Child(got.Desc(), "channels"), "channel")
	var labels []string
	for ; ch != nil; ch = linfo.NextSiblingNamed(ch, "channel") {
		labels = append(labels, linfo.ChildValueNamed(ch, "label"))
	}
	require.Equal(t, []string{"C3", "C4", "Cz"}, labels)

	// Serializing the parsed document yields the same text.
	require.Equal(t, xml, got.XML())
}

func TestInfo_ShortXML(t *testing.T) {
	t.Parallel()

	i := newEEG()
	linfo.AppendChildValue(i.Desc(), "manufacturer", "BioSemi")

	short := i.ShortXML()
	require.Contains(t, short, "<desc />")
	require.NotContains(t, short, "manufacturer")

	got, err := linfo.Parse(short)
	require.NoError(t, err)
	require.Equal(t, "BioSemi", got.Name)
	require.Nil(t, linfo.FirstChild(got.Desc()))

	// The original is untouched.
	require.Equal(t, "BioSemi", linfo.ChildValueNamed(i.Desc(), "manufacturer"))
}

func TestParse_errors(t *testing.T) {
	t.Parallel()

	_, err := linfo.Parse("not xml at all <")
	require.Error(t, err)

	_, err = linfo.Parse(`<?xml version="1.0"?><other />`)
	require.ErrorIs(t, err, linfo.ErrNoInfoElement)

	_, err = linfo.Parse(`<info><channel_count>lots</channel_count></info>`)
	require.Error(t, err)

	_, err = linfo.Parse(`<info><channel_format>float128</channel_format></info>`)
	require.Error(t, err)
}

func TestParse_missingDesc(t *testing.T) {
	t.Parallel()

	i, err := linfo.Parse(`<info><name>x</name></info>`)
	require.NoError(t, err)
	require.NotNil(t, i.Desc())
	require.Equal(t, "desc", linfo.Name(i.Desc()))
}

func TestInfo_Clone(t *testing.T) {
	t.Parallel()

	i := newEEG()
	linfo.AppendChildValue(i.Desc(), "a", "1")

	c := i.Clone()
	require.Equal(t, i.XML(), c.XML())

	linfo.AppendChildValue(c.Desc(), "b", "2")
	c.Name = "other"

	require.Empty(t, linfo.ChildValueNamed(i.Desc(), "b"))
	require.Equal(t, "BioSemi", i.Name)
	require.Equal(t, "2", linfo.ChildValueNamed(c.Desc(), "b"))
}

func TestQuery(t *testing.T) {
	t.Parallel()

	i := newEEG()
	channels := linfo.AppendChild(i.Desc(), "channels")
	for range 4 {
		linfo.AppendChild(channels, "channel")
	}

	for _, tc := range []struct {
		pred string
		want bool
	}{
		{"", true},
		{"type='EEG'", true},
		{"type='Audio'", false},
		{"name='BioSemi' and type='EEG'", true},
		{"starts-with(name,'Bio')", true},
		{"channel_count>4", true},
		{"nominal_srate=100", true},
		{"count(desc/channels/channel)=4", true},
		{"count(desc/channels/channel)=5", false},
		{linfo.StreamQuery("BioSemi", "EEG", "myid234365"), true},
		{linfo.StreamQuery("BioSemi", "EEG", "other"), false},
	} {
		got, err := i.Matches(tc.pred)
		require.NoError(t, err, tc.pred)
		require.Equal(t, tc.want, got, tc.pred)
	}

	_, err := i.Matches("type='EEG")
	require.Error(t, err)
}

func TestQuery_seesFieldUpdates(t *testing.T) {
	t.Parallel()

	q, err := linfo.CompileQuery("uid='abc'")
	require.NoError(t, err)

	i := newEEG()
	require.False(t, q.Matches(i))

	i.UID = "abc"
	require.True(t, q.Matches(i))
}

func TestPropQuery(t *testing.T) {
	t.Parallel()

	require.Equal(t, "type='EEG'", linfo.PropQuery("type", "EEG"))
	require.Equal(
		t,
		"name='a' and type='b' and source_id='c'",
		linfo.StreamQuery("a", "b", "c"),
	)
}

func TestPropQuery_quotedValues(t *testing.T) {
	t.Parallel()

	require.Equal(t, `name="O'Brien"`, linfo.PropQuery("name", "O'Brien"))
	require.Equal(t, `name='say "hi"'`, linfo.PropQuery("name", `say "hi"`))

	for _, name := range []string{
		"O'Brien",
		`say "hi"`,
		`O'Brien "Lab"`,
		`'"`,
		`''x""`,
	} {
		i := linfo.New(name, "EEG", 1, 100, lformat.Float32, "src")

		q, err := linfo.CompileQuery(linfo.PropQuery("name", name))
		require.NoError(t, err, name)
		require.True(t, q.Matches(i), name)

		q, err = linfo.CompileQuery(linfo.StreamQuery(name, "EEG", "src"))
		require.NoError(t, err, name)
		require.True(t, q.Matches(i), name)

		other := linfo.New(name+"x", "EEG", 1, 100, lformat.Float32, "src")
		require.False(t, q.Matches(other), name)
	}
}
