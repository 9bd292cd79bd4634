// Package lproto contains the wire formats exchanged between engines:
// discovery datagrams, the header byte of each QUIC stream,
// the feed handshake, sample chunk frames, full info frames
// and time probe datagrams.
package lproto

import "time"

// ProtocolVersion is advertised in stream declarations and feed handshakes.
// Major version is ProtocolVersion/100.
const ProtocolVersion = 110

// StreamType is the first byte written on a new QUIC stream,
// selecting how the accepting side handles it.
type StreamType byte

const (
	// Keep zero reserved.
	// Not using iota here, to avoid possibility of values changing across the wire.

	// Request for the full stream declaration, including the description.
	FullInfoStreamType StreamType = 1

	// Subscription to a stream's samples.
	FeedStreamType StreamType = 2
)

// DatagramType is the first byte of every datagram,
// both UDP discovery datagrams and QUIC datagrams.
type DatagramType byte

const (
	// Discovery, over UDP.
	QueryDatagramType    DatagramType = 1
	ResponseDatagramType DatagramType = 2

	// Time probes, over QUIC datagrams.
	ProbeDatagramType      DatagramType = 3
	ProbeReplyDatagramType DatagramType = 4
)

// HandshakeTimeout bounds the exchange of requests and responses
// at the start of a stream.
const HandshakeTimeout = 5 * time.Second

// MaxFrameSize is the largest length-prefixed frame accepted from a peer.
const MaxFrameSize = 64 << 20

// MaxDatagramSize is the largest discovery datagram sent or accepted.
const MaxDatagramSize = 64 << 10
