package lproto

import (
	"fmt"

	"github.com/golang/snappy"
)

// FeedRequest is sent by an inlet after the [FeedStreamType] byte.
type FeedRequest struct {
	UID             string `msgpack:"uid"`
	ProtocolVersion int    `msgpack:"version"`

	// Buffer capacity requested by the inlet, in samples.
	MaxBuffered int `msgpack:"max_buffered"`

	// Maximum number of samples per chunk frame; zero means no limit.
	MaxChunkLen int `msgpack:"max_chunklen"`
}

// FeedResponse answers a [FeedRequest].
// When Error is empty, chunk frames follow on the same stream.
type FeedResponse struct {
	Error string `msgpack:"error,omitempty"`

	// Shape of the samples in the following chunk frames.
	ChannelFormat uint8   `msgpack:"channel_format"`
	ChannelCount  int     `msgpack:"channel_count"`
	NominalSrate  float64 `msgpack:"nominal_srate"`
}

// FullInfoRequest is sent after the [FullInfoStreamType] byte.
type FullInfoRequest struct {
	UID string `msgpack:"uid"`
}

// FullInfoResponse answers a [FullInfoRequest].
type FullInfoResponse struct {
	Error string `msgpack:"error,omitempty"`

	// Snappy-compressed XML of the full stream declaration.
	CompressedXML []byte `msgpack:"xml"`
}

// NewFullInfoResponse returns a response carrying xml.
func NewFullInfoResponse(xml string) FullInfoResponse {
	return FullInfoResponse{CompressedXML: snappy.Encode(nil, []byte(xml))}
}

// XML decompresses the stream declaration.
func (r FullInfoResponse) XML() (string, error) {
	b, err := snappy.Decode(nil, r.CompressedXML)
	if err != nil {
		return "", fmt.Errorf("failed to decompress stream info: %w", err)
	}
	return string(b), nil
}
