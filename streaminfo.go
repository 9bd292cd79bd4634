package lsl

import (
	"fmt"
	"math"
	"strings"

	"github.com/gordian-engine/lsl/linfo"
)

// StreamInfo is the declaration of one stream:
// its identity, its hosting details once published,
// and an extended description tree.
//
// Outlets, inlets and resolution all take independent copies of a StreamInfo,
// so a StreamInfo may be modified or dropped after use.
type StreamInfo struct {
	info *linfo.Info
}

// NewStreamInfo declares a stream.
//
// The name must not be empty, the nominal rate must not be negative
// (use [IrregularRate] for irregular streams),
// and the channel count must fit in 31 bits.
// No argument may contain a NUL byte.
func NewStreamInfo(
	name, typ string,
	channelCount int,
	nominalSrate float64,
	format ChannelFormat,
	sourceID string,
) (*StreamInfo, error) {
	switch {
	case name == "":
		return nil, badArgument("stream name must not be empty")
	case hasNUL(name), hasNUL(typ), hasNUL(sourceID):
		return nil, badArgument("stream name, type and source id must not contain NUL bytes")
	case channelCount < 0 || channelCount > math.MaxInt32:
		return nil, badArgument("channel count %d out of range", channelCount)
	case nominalSrate < 0 || math.IsNaN(nominalSrate) || math.IsInf(nominalSrate, 0):
		return nil, badArgument("nominal rate %v must be a non-negative number", nominalSrate)
	case format != Undefined && !format.Valid():
		return nil, badArgument("unknown channel format %d", uint8(format))
	}

	return &StreamInfo{
		info: linfo.New(name, typ, channelCount, nominalSrate, format, sourceID),
	}, nil
}

// FromBlank returns an untitled declaration with no channels,
// typically overwritten by parsing or by setting up the description.
func FromBlank() *StreamInfo {
	return &StreamInfo{
		info: linfo.New("untitled", "", 0, IrregularRate, Undefined, ""),
	}
}

// FromXML parses a document produced by [StreamInfo.ToXML].
func FromXML(xml string) (*StreamInfo, error) {
	info, err := linfo.Parse(xml)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceCreation, err)
	}
	return &StreamInfo{info: info}, nil
}

func hasNUL(s string) bool {
	return strings.IndexByte(s, 0) >= 0
}

// Name identifies the stream, typically by its source device or program.
func (s *StreamInfo) Name() string { return s.info.Name }

// Type is the content type of the stream, such as "EEG" or "Markers".
func (s *StreamInfo) Type() string { return s.info.Type }

func (s *StreamInfo) ChannelCount() int { return s.info.ChannelCount }

// NominalSrate is the advertised sampling rate in Hz,
// or [IrregularRate].
func (s *StreamInfo) NominalSrate() float64 { return s.info.NominalSrate }

func (s *StreamInfo) ChannelFormat() ChannelFormat { return s.info.ChannelFormat }

// SourceID is a unique identifier of the data source, if known.
// Inlets can only recover streams that have one.
func (s *StreamInfo) SourceID() string { return s.info.SourceID }

// Version is the protocol version of the hosting engine.
func (s *StreamInfo) Version() int { return s.info.Version }

// CreatedAt is the host's local clock when the stream was published.
func (s *StreamInfo) CreatedAt() float64 { return s.info.CreatedAt }

// UID identifies one published instance of the stream.
func (s *StreamInfo) UID() string { return s.info.UID }

func (s *StreamInfo) SessionID() string { return s.info.SessionID }

func (s *StreamInfo) Hostname() string { return s.info.Hostname }

// Desc returns the root of the extended description.
// The description may be modified through the returned element.
//
// Streams obtained by resolution have an empty description;
// use [StreamInlet.Info] to retrieve the full one.
func (s *StreamInfo) Desc() XMLElement {
	return XMLElement{n: s.info.Desc()}
}

// MatchesQuery reports whether the declaration matches an XPath 1.0 predicate,
// such as "type='EEG' and count(desc/channels/channel)=32".
// A predicate that cannot be compiled matches nothing.
func (s *StreamInfo) MatchesQuery(pred string) bool {
	if hasNUL(pred) {
		return false
	}
	ok, err := s.info.Matches(pred)
	return err == nil && ok
}

// ToXML serializes the full declaration, including the description.
func (s *StreamInfo) ToXML() string {
	return s.info.XML()
}

// ChannelBytes is the size of one channel value,
// or zero for the variable length String format.
func (s *StreamInfo) ChannelBytes() int { return s.info.ChannelBytes() }

// SampleBytes is the size of one sample,
// or zero for the variable length String format.
func (s *StreamInfo) SampleBytes() int { return s.info.SampleBytes() }

// Clone returns an independent deep copy.
func (s *StreamInfo) Clone() *StreamInfo {
	return &StreamInfo{info: s.info.Clone()}
}

func (s *StreamInfo) String() string {
	return s.info.String()
}
