package lquic_test

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/gordian-engine/lsl/lquic"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) (*net.UDPConn, *quic.Transport) {
	t.Helper()

	uc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	qt := lquic.MakeTransport(uc)
	t.Cleanup(func() {
		_ = qt.Close()
		_ = uc.Close()
	})
	return uc, qt
}

func TestDialAndExchange(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := lquic.NewIdentity("engine-under-test")
	require.NoError(t, err)

	serverUC, serverQT := listenLoopback(t)
	ql, err := lquic.Listen(serverQT, lquic.DefaultConfig(), id)
	require.NoError(t, err)

	_, clientQT := listenLoopback(t)
	d := lquic.Dialer{QUICTransport: clientQT, QUICConfig: lquic.DefaultConfig()}

	accepted := make(chan *quic.Conn, 1)
	go func() {
		qc, err := ql.Accept(ctx)
		if err != nil {
			t.Error(err)
			close(accepted)
			return
		}
		accepted <- qc
	}()

	client, err := d.Dial(ctx, serverUC.LocalAddr())
	require.NoError(t, err)

	rawServer := <-accepted
	require.NotNil(t, rawServer)
	server := lquic.WrapConn(rawServer)

	// Bidirectional stream.
	cs, err := client.OpenStreamSync(ctx)
	require.NoError(t, err)
	_, err = cs.Write([]byte("ping"))
	require.NoError(t, err)

	ss, err := server.AcceptStream(ctx)
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(ss, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))

	// Datagrams.
	require.NoError(t, client.SendDatagram([]byte{1, 2, 3}))
	dg, err := server.ReceiveDatagram(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, dg)

	// Close codes are visible to the peer.
	require.NoError(t, server.CloseWithError(lquic.EngineStoppingCode, "bye"))
	<-client.Context().Done()
	_, err = client.AcceptStream(ctx)
	code, ok := lquic.RemoteCloseCode(err)
	require.True(t, ok)
	require.Equal(t, lquic.EngineStoppingCode, code)
}

func TestConnAdapter_CloseWithError_panicsOnWideCode(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		_ = lquic.ConnAdapter{}.CloseWithError(1<<62, "")
	})
}
