package lquic

import (
	"context"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

// Dialer handles establishing QUIC connections with remote engines.
type Dialer struct {
	QUICTransport *quic.Transport
	QUICConfig    *quic.Config
}

// Dial opens a QUIC connection to the listener at addr.
func (d Dialer) Dial(ctx context.Context, addr net.Addr) (Conn, error) {
	qc, err := d.QUICTransport.Dial(ctx, addr, ClientTLSConfig(), d.QUICConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return WrapConn(qc), nil
}
