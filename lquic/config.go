package lquic

import (
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// DefaultConfig is the default QUIC configuration for data connections.
func DefaultConfig() *quic.Config {
	return &quic.Config{
		// Defaults to 5 otherwise, which is far higher latency than we need on a LAN.
		HandshakeIdleTimeout: 2 * time.Second,

		// Outlets may go quiet for long periods (irregular marker streams),
		// so keep connections alive rather than relying on the idle timeout.
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,

		// Initial size of stream-level flow control window.
		// Sample feeds are the only large streams.
		InitialStreamReceiveWindow: 256 * 1024,
		MaxStreamReceiveWindow:     8 * 1024 * 1024,

		// Those windows were individual streams, this is for an entire connection.
		InitialConnectionReceiveWindow: 512 * 1024,
		MaxConnectionReceiveWindow:     16 * 1024 * 1024,

		// One feed stream plus occasional full info requests per inlet.
		MaxIncomingStreams:    16,
		MaxIncomingUniStreams: -1,

		// Time probes travel as datagrams.
		EnableDatagrams: true,
	}
}

// MakeTransport returns a QUIC transport over conn.
// The caller owns conn and must close it after closing the transport.
func MakeTransport(conn *net.UDPConn) *quic.Transport {
	return &quic.Transport{
		Conn: conn,

		// Skip: ConnectionIDLength: use default of 4 for now.
		// Skip: StatelessResetKey: engines are short-lived and use ephemeral identities.
	}
}

// Listen starts a listener on qt, presenting id to connecting peers.
func Listen(qt *quic.Transport, qConf *quic.Config, id *Identity) (*quic.Listener, error) {
	ql, err := qt.Listen(id.ServerTLSConfig(), qConf)
	if err != nil {
		return nil, fmt.Errorf("failed to set up QUIC listener: %w", err)
	}
	return ql, nil
}
