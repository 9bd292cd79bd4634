// Package lnettest contains a fixture of engines on the loopback interface.
package lnettest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/lsl/internal/ltest"
	"github.com/gordian-engine/lsl/lnet"
)

// Network contains a collection of NetworkEngine values,
// to simplify tests that require multiple engines.
type Network struct {
	Log *slog.Logger

	Engines []NetworkEngine
}

// NetworkEngine contains the details for an engine in this test network.
type NetworkEngine struct {
	Engine *lnet.Engine

	Registry *prometheus.Registry

	Discovery *net.UDPConn
	Data      *net.UDPConn
}

// FastConfig returns a configuration with short intervals,
// and without multicast so tests never leave the loopback interface.
func FastConfig() lnet.Config {
	cfg := lnet.DefaultConfig()
	cfg.MulticastGroup = ""

	cfg.ResolveWaveInterval = 50 * time.Millisecond
	cfg.ProbeInterval = 200 * time.Millisecond
	cfg.ProbeTimeout = 100 * time.Millisecond
	cfg.RecoverInterval = 100 * time.Millisecond
	return cfg
}

// NewNetwork returns a Network of n engines
// that know each other's discovery sockets.
//
// If any error occurs while creating the network,
// t.Fatal is called.
//
// t.Cleanup is used to close the sockets and to wait for the engines,
// so the context must be cancelled before the end of the test.
func NewNetwork(t *testing.T, ctx context.Context, n int) *Network {
	t.Helper()

	log := ltest.NewLogger(t)

	// Create every discovery listener first,
	// so that each engine can be told about all of them.
	discovery := make([]*net.UDPConn, n)
	peers := make([]string, n)
	for i := range n {
		discovery[i] = listenLoopback(t)
		peers[i] = discovery[i].LocalAddr().String()
	}

	engines := make([]NetworkEngine, n)
	for i := range n {
		data := listenLoopback(t)
		reg := prometheus.NewRegistry()

		cfg := FastConfig()
		cfg.DiscoveryConn = discovery[i]
		cfg.DataConn = data
		cfg.KnownPeers = peers
		cfg.Hostname = fmt.Sprintf("engine-%d", i)
		cfg.Registerer = reg

		e, err := lnet.NewEngine(ctx, log.With("engine", i), cfg)
		require.NoError(t, err)

		// This cleanup call necessitates that the context is cancelled before the end of the test.
		t.Cleanup(e.Wait)

		engines[i] = NetworkEngine{
			Engine:    e,
			Registry:  reg,
			Discovery: discovery[i],
			Data:      data,
		}
	}

	return &Network{
		Log:     log,
		Engines: engines,
	}
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()

	uc, err := net.ListenUDP("udp4", &net.UDPAddr{
		IP:   net.IPv4(127, 0, 0, 1),
		Port: 0,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := uc.Close(); err != nil {
			t.Logf("Error closing UDP listener: %v", err)
		}
	})
	return uc
}

// Wait blocks until every engine has stopped.
func (n *Network) Wait() {
	for _, e := range n.Engines {
		e.Engine.Wait()
	}
}
