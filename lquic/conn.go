// Package lquic contains the QUIC plumbing shared by every engine:
// narrow interfaces over quic-go connections and streams,
// the default QUIC configuration, transports and listeners
// on caller-supplied UDP sockets, dialing, and ephemeral TLS identities.
package lquic

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

// ApplicationErrorCode is used for [Conn.CloseWithError].
type ApplicationErrorCode uint64

// Application error codes sent when closing a data connection.
const (
	// Keep zero as the generic "no error" code.
	NoErrorCode ApplicationErrorCode = 0

	// The engine hosting the outlets is shutting down.
	EngineStoppingCode ApplicationErrorCode = 1

	// The peer violated the wire protocol.
	ProtocolErrorCode ApplicationErrorCode = 2
)

// Conn is the interface representing a QUIC connection.
//
// This is a subset of the methods on [*quic.Conn],
// only referencing the methods used by the engines.
type Conn interface {
	AcceptStream(context.Context) (Stream, error)

	// Streams are only opened with the blocking variant.
	OpenStreamSync(context.Context) (Stream, error)

	SendDatagram([]byte) error
	ReceiveDatagram(context.Context) ([]byte, error)

	CloseWithError(code ApplicationErrorCode, msg string) error

	// Context is canceled when the connection is closed.
	Context() context.Context

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

var _ Conn = ConnAdapter{}

// ConnAdapter wraps a [*quic.Conn], implementing the [Conn] interface.
//
// Create an instance with [WrapConn].
type ConnAdapter struct {
	qc *quic.Conn
}

// WrapConn wraps the given connection,
// returning a value implementing [Conn].
func WrapConn(qc *quic.Conn) ConnAdapter {
	return ConnAdapter{qc: qc}
}

func (c ConnAdapter) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.qc.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return WrapStream(s), nil
}

func (c ConnAdapter) OpenStreamSync(ctx context.Context) (Stream, error) {
	s, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return WrapStream(s), nil
}

func (c ConnAdapter) SendDatagram(p []byte) error {
	return c.qc.SendDatagram(p)
}

func (c ConnAdapter) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.qc.ReceiveDatagram(ctx)
}

func (c ConnAdapter) CloseWithError(code ApplicationErrorCode, msg string) error {
	if (code >> 62) > 0 {
		panic(fmt.Errorf(
			"BUG: application error code must fit in 62 bits (got 0x%x)", code,
		))
	}
	return c.qc.CloseWithError(quic.ApplicationErrorCode(code), msg)
}

func (c ConnAdapter) Context() context.Context { return c.qc.Context() }

func (c ConnAdapter) LocalAddr() net.Addr { return c.qc.LocalAddr() }

func (c ConnAdapter) RemoteAddr() net.Addr { return c.qc.RemoteAddr() }

// RemoteCloseCode reports the application error code
// with which the peer closed the connection, if err carries one.
func RemoteCloseCode(err error) (ApplicationErrorCode, bool) {
	var ae *quic.ApplicationError
	if !errors.As(err, &ae) || !ae.Remote {
		return 0, false
	}
	return ApplicationErrorCode(ae.ErrorCode), true
}
