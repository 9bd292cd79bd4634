package lnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/gordian-engine/lsl/internal/lproto"
	"github.com/gordian-engine/lsl/lclock"
	"github.com/gordian-engine/lsl/lengine"
	"github.com/gordian-engine/lsl/linfo"
	"github.com/gordian-engine/lsl/lquic"
)

// Engine is the networked implementation of [lengine.Engine].
type Engine struct {
	log *slog.Logger
	cfg Config

	// Lifecycle context of the engine.
	ctx context.Context

	wg sync.WaitGroup

	discoveryConn *net.UDPConn
	dataConn      *net.UDPConn
	ownsConns     []*net.UDPConn

	quicConf      *quic.Config
	quicTransport *quic.Transport
	quicListener  *quic.Listener

	dialer lquic.Dialer

	hostname string

	metrics *Metrics

	mu      sync.RWMutex
	outlets map[string]*outlet
}

var _ lengine.Engine = (*Engine)(nil)

// NewEngine returns a new Engine with the given configuration.
// The ctx parameter controls the lifecycle of the Engine;
// cancel the context to stop the engine,
// and then use [(*Engine).Wait] to block until all background work has completed.
//
// NewEngine returns runtime errors that happen during initialization.
// Configuration errors cause a panic.
func NewEngine(ctx context.Context, log *slog.Logger, cfg Config) (*Engine, error) {
	// Panic if there are any misconfigurations.
	cfg.validate(log)

	e := &Engine{
		log: log,
		cfg: cfg,
		ctx: ctx,

		quicConf: cfg.quicConfig(),

		hostname: cfg.Hostname,

		metrics: newMetrics(cfg.Registerer),

		outlets: make(map[string]*outlet),
	}
	if e.hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			log.Warn("Failed to determine hostname", "err", err)
		}
		e.hostname = h
	}

	if err := e.openSockets(); err != nil {
		e.closeOwnedConns()
		return nil, err
	}

	e.quicTransport = lquic.MakeTransport(e.dataConn)

	id, err := lquic.NewIdentity(e.hostname)
	if err != nil {
		e.closeOwnedConns()
		return nil, fmt.Errorf("failed to create TLS identity: %w", err)
	}

	ql, err := lquic.Listen(e.quicTransport, e.quicConf, id)
	if err != nil {
		e.closeOwnedConns()
		// Assume error already wrapped.
		return nil, err
	}
	e.quicListener = ql

	e.dialer = lquic.Dialer{
		QUICTransport: e.quicTransport,
		QUICConfig:    e.quicConf,
	}

	e.wg.Add(3)
	go e.acceptConnections(ctx)
	go e.answerQueries(ctx)
	go e.shutdownOnCancel(ctx)

	return e, nil
}

func (e *Engine) openSockets() error {
	e.discoveryConn = e.cfg.DiscoveryConn
	if e.discoveryConn == nil {
		var err error
		if e.cfg.MulticastGroup != "" {
			// ListenMulticastUDP sets SO_REUSEADDR,
			// so every engine on a host receives the multicast queries.
			e.discoveryConn, err = net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{
				IP:   net.ParseIP(e.cfg.MulticastGroup),
				Port: e.cfg.DiscoveryPort,
			})
		} else {
			e.discoveryConn, err = net.ListenUDP("udp4", &net.UDPAddr{Port: e.cfg.DiscoveryPort})
		}
		if err != nil {
			return fmt.Errorf("failed to open discovery socket: %w", err)
		}
		e.ownsConns = append(e.ownsConns, e.discoveryConn)
	}

	e.dataConn = e.cfg.DataConn
	if e.dataConn == nil {
		var err error
		e.dataConn, err = net.ListenUDP("udp4", &net.UDPAddr{})
		if err != nil {
			return fmt.Errorf("failed to open data socket: %w", err)
		}
		e.ownsConns = append(e.ownsConns, e.dataConn)
	}

	return nil
}

func (e *Engine) closeOwnedConns() {
	for _, c := range e.ownsConns {
		if err := c.Close(); err != nil {
			e.log.Debug("Failed to close socket", "addr", c.LocalAddr(), "err", err)
		}
	}
	e.ownsConns = nil
}

// shutdownOnCancel closes the listener and transport once the engine's context is done,
// which unblocks the accept loop and every connection.
func (e *Engine) shutdownOnCancel(ctx context.Context) {
	defer e.wg.Done()

	<-ctx.Done()

	e.mu.Lock()
	outlets := e.outlets
	e.outlets = map[string]*outlet{}
	e.mu.Unlock()
	for _, o := range outlets {
		o.shutdown()
	}

	if err := e.quicListener.Close(); err != nil {
		e.log.Debug("Failed to close QUIC listener", "err", err)
	}
	if err := e.quicTransport.Close(); err != nil {
		e.log.Debug("Failed to close QUIC transport", "err", err)
	}

	// Unblocks the discovery read loop.
	if err := e.discoveryConn.SetReadDeadline(time.Now()); err != nil {
		e.log.Debug("Failed to interrupt discovery socket", "err", err)
	}

	e.log.Info("Engine stopping due to context cancellation", "cause", context.Cause(ctx))
}

// Wait blocks until the engine has finished all background work.
// Sockets the engine opened itself are closed once Wait returns.
func (e *Engine) Wait() {
	e.wg.Wait()
	e.closeOwnedConns()
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// DataAddr is the address of the engine's QUIC listener.
func (e *Engine) DataAddr() *net.UDPAddr {
	return e.dataConn.LocalAddr().(*net.UDPAddr)
}

// DiscoveryAddr is the address of the engine's discovery socket.
func (e *Engine) DiscoveryAddr() *net.UDPAddr {
	return e.discoveryConn.LocalAddr().(*net.UDPAddr)
}

func (e *Engine) LocalClock() float64 {
	return lclock.Now()
}

// errStopped is returned for operations on a stopped engine.
var errStopped = errors.New("engine stopped")

func (e *Engine) stopped() bool {
	return e.ctx.Err() != nil
}

// NewOutlet hosts a copy of info, assigning its hosting fields.
func (e *Engine) NewOutlet(info *linfo.Info, chunkSize, maxBuffered int) (lengine.Outlet, error) {
	if e.stopped() {
		return nil, lengine.Errorf(lengine.Internal, "cannot create outlet: %w", errStopped)
	}
	if chunkSize < 0 || maxBuffered < 0 {
		return nil, lengine.Errorf(
			lengine.Argument,
			"chunk size and max buffered must not be negative (got %d, %d)",
			chunkSize, maxBuffered,
		)
	}

	hosted := info.Clone()
	hosted.Version = lproto.ProtocolVersion
	hosted.CreatedAt = lclock.Now()
	hosted.UID = uuid.NewString()
	hosted.SessionID = e.cfg.SessionID
	hosted.Hostname = e.hostname

	dataAddr := e.DataAddr()
	if ip := dataAddr.IP; ip != nil && !ip.IsUnspecified() {
		hosted.V4Address = ip.String()
	}
	hosted.V4DataPort = dataAddr.Port
	hosted.V4ServicePort = e.DiscoveryAddr().Port

	o := newOutlet(e, hosted, chunkSize, maxBuffered)

	e.mu.Lock()
	e.outlets[hosted.UID] = o
	e.mu.Unlock()

	e.log.Info(
		"Hosting outlet",
		"uid", hosted.UID,
		"name", hosted.Name,
		"type", hosted.Type,
	)
	return o, nil
}

func (e *Engine) removeOutlet(uid string) {
	e.mu.Lock()
	delete(e.outlets, uid)
	e.mu.Unlock()
}

func (e *Engine) lookupOutlet(uid string) *outlet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.outlets[uid]
}

// hostedOutlets returns a snapshot of all hosted outlets.
func (e *Engine) hostedOutlets() []*outlet {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*outlet, 0, len(e.outlets))
	for _, o := range e.outlets {
		out = append(out, o)
	}
	return out
}
