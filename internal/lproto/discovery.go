package lproto

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Query asks every engine for streams matching Predicate.
type Query struct {
	// Identifies the resolve operation, so late replies to an
	// earlier query can be told apart.
	ID uint64 `msgpack:"id"`

	// Only engines in the same session answer.
	SessionID string `msgpack:"session"`

	// XPath predicate over the stream declaration; empty matches all.
	Predicate string `msgpack:"pred"`
}

// Response is sent by an engine for each hosted stream matching a [Query].
type Response struct {
	QueryID uint64 `msgpack:"id"`

	// Stream declaration without the description.
	ShortInfo string `msgpack:"info"`
}

// ErrUnknownDatagram is returned by [ParseDatagram]
// for a datagram with an unrecognized type byte.
var ErrUnknownDatagram = errors.New("unknown datagram type")

// AppendQuery appends the datagram form of q to dst.
func AppendQuery(dst []byte, q Query) ([]byte, error) {
	return appendDatagram(dst, QueryDatagramType, q)
}

// AppendResponse appends the datagram form of r to dst.
func AppendResponse(dst []byte, r Response) ([]byte, error) {
	return appendDatagram(dst, ResponseDatagramType, r)
}

func appendDatagram(dst []byte, t DatagramType, v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	if 1+len(b) > MaxDatagramSize {
		return nil, fmt.Errorf("%T of %d bytes exceeds datagram size limit", v, len(b))
	}

	dst = append(dst, byte(t))
	return append(dst, b...), nil
}

// ParseDiscovery decodes a discovery datagram.
// Exactly one of the returned pointers is non-nil when err is nil.
func ParseDiscovery(b []byte) (*Query, *Response, error) {
	if len(b) < 1 {
		return nil, nil, errors.New("empty datagram")
	}

	switch DatagramType(b[0]) {
	case QueryDatagramType:
		var q Query
		if err := msgpack.Unmarshal(b[1:], &q); err != nil {
			return nil, nil, fmt.Errorf("failed to decode query: %w", err)
		}
		return &q, nil, nil

	case ResponseDatagramType:
		var r Response
		if err := msgpack.Unmarshal(b[1:], &r); err != nil {
			return nil, nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return nil, &r, nil

	default:
		return nil, nil, fmt.Errorf("%w 0x%x", ErrUnknownDatagram, b[0])
	}
}
