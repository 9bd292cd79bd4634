package lnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gordian-engine/lsl/internal/lproto"
	"github.com/gordian-engine/lsl/internal/lqueue"
	"github.com/gordian-engine/lsl/lengine"
	"github.com/gordian-engine/lsl/lformat"
	"github.com/gordian-engine/lsl/linfo"
	"github.com/gordian-engine/lsl/lpost"
	"github.com/gordian-engine/lsl/lquic"
)

// inlet subscribes to a stream hosted by another engine.
type inlet struct {
	e   *Engine
	log *slog.Logger

	// Lifecycle of the inlet; canceled by Close or by the engine stopping.
	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	maxChunklen int
	recover     bool

	q     *lqueue.Queue[lproto.Entry]
	post  *lpost.Postprocessor
	clock *clockEstimate

	// Serializes dialing.
	dialMu sync.Mutex

	mu     sync.Mutex
	info   *linfo.Info
	conn   lquic.Conn
	feed   *feed
	lost   error
	closed bool
}

var _ lengine.Inlet = (*inlet)(nil)

// feed is one subscription to the outlet's samples,
// surviving reconnects when the inlet recovers.
type feed struct {
	cancel context.CancelFunc

	openOnce sync.Once
	opened   chan struct{}
	openErr  error

	done chan struct{}
}

func (f *feed) markOpened(err error) {
	f.openOnce.Do(func() {
		f.openErr = err
		close(f.opened)
	})
}

var (
	errInletClosed = errors.New("inlet closed")
	errShape       = errors.New("outlet sent a different sample shape")
)

// NewInlet returns an inlet for a stream found by resolution.
// No connection is made until the inlet is first used.
func (e *Engine) NewInlet(info *linfo.Info, maxBuflen, maxChunklen int, recover bool) (lengine.Inlet, error) {
	if e.stopped() {
		return nil, lengine.Errorf(lengine.Internal, "cannot create inlet: %w", errStopped)
	}
	if maxBuflen < 0 || maxChunklen < 0 {
		return nil, lengine.Errorf(
			lengine.Argument,
			"buffer length and chunk length must not be negative (got %d, %d)",
			maxBuflen, maxChunklen,
		)
	}
	if info.UID == "" || info.V4DataPort == 0 {
		return nil, lengine.Errorf(
			lengine.Argument,
			"stream %s was not obtained by resolution", info.Name,
		)
	}

	info = info.Clone()
	ctx, cancel := context.WithCancelCause(e.ctx)
	in := &inlet{
		e:   e,
		log: e.log.With("inlet", info.Name, "source_id", info.SourceID),

		ctx:    ctx,
		cancel: cancel,

		maxChunklen: maxChunklen,
		recover:     recover,

		q: lqueue.New[lproto.Entry](bufferSamples(maxBuflen, info.NominalSrate)),

		info: info,
	}
	in.clock = newClockEstimate(in.log, e.cfg.ClockResetThreshold)
	halftime := e.cfg.SmoothingHalftime
	if halftime <= 0 {
		halftime = lpost.DefaultHalftime
	}
	in.post = lpost.NewPostprocessor(lpost.Config{
		SampleRate: info.NominalSrate,
		Halftime:   halftime,
		Correction: in.clock.offset,
		ClockReset: in.clock.takePostReset,
	})

	return in, nil
}

// usable returns the reason the inlet can no longer deliver samples, if any.
func (in *inlet) usable() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return lengine.Errorf(lengine.Lost, "%w", errInletClosed)
	}
	return in.lost
}

// failure maps a failed network operation to an engine error.
func failure(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return lengine.Errorf(lengine.Timeout, "%s: %w", op, context.Cause(ctx))
	}
	return lengine.Errorf(lengine.Lost, "%s: %w", op, err)
}

// connection returns the connection to the outlet's engine,
// dialing it if necessary.
func (in *inlet) connection(ctx context.Context) (lquic.Conn, error) {
	in.dialMu.Lock()
	defer in.dialMu.Unlock()

	in.mu.Lock()
	conn := in.conn
	host := net.JoinHostPort(in.info.V4Address, strconv.Itoa(in.info.V4DataPort))
	in.mu.Unlock()

	if conn != nil && conn.Context().Err() == nil {
		return conn, nil
	}

	addr, err := net.ResolveUDPAddr("udp4", host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve outlet address %q: %w", host, err)
	}

	// Dialing is bounded by both the caller and the inlet lifetime.
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(in.ctx, cancel)
	defer stop()

	conn, err = in.e.dialer.Dial(dctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial outlet at %s: %w", addr, err)
	}

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		_ = conn.CloseWithError(lquic.NoErrorCode, "inlet closed")
		return nil, errInletClosed
	}
	in.conn = conn
	in.mu.Unlock()

	in.log.Debug("Connected to outlet", "addr", addr.String())

	// Probing lasts as long as both the connection and the inlet.
	pctx, pcancel := context.WithCancel(in.ctx)
	context.AfterFunc(conn.Context(), pcancel)
	in.wg.Add(1)
	go in.e.runProber(pctx, &in.wg, conn, in.clock)

	return conn, nil
}

func (in *inlet) FullInfo(ctx context.Context) (*linfo.Info, error) {
	if err := in.usable(); err != nil {
		return nil, err
	}

	conn, err := in.connection(ctx)
	if err != nil {
		return nil, failure(ctx, "cannot retrieve stream info", err)
	}

	s, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, failure(ctx, "failed to open info stream", err)
	}
	stop := context.AfterFunc(ctx, func() {
		s.CancelRead(lquic.StreamUnwantedCode)
		s.CancelWrite(lquic.StreamUnwantedCode)
	})
	defer stop()

	in.mu.Lock()
	uid := in.info.UID
	in.mu.Unlock()

	if err := lproto.WriteStreamType(s, lproto.FullInfoStreamType); err != nil {
		return nil, failure(ctx, "failed to write stream type", err)
	}
	if err := lproto.WriteMessage(s, lproto.FullInfoRequest{UID: uid}); err != nil {
		return nil, failure(ctx, "failed to write info request", err)
	}
	_ = s.Close()

	var resp lproto.FullInfoResponse
	if err := lproto.ReadMessage(s, &resp); err != nil {
		return nil, failure(ctx, "failed to read info response", err)
	}
	if resp.Error != "" {
		return nil, lengine.Errorf(lengine.Lost, "outlet refused info request: %s", resp.Error)
	}

	xml, err := resp.XML()
	if err != nil {
		return nil, lengine.Errorf(lengine.Internal, "%w", err)
	}
	info, err := linfo.Parse(xml)
	if err != nil {
		return nil, lengine.Errorf(lengine.Internal, "outlet sent invalid stream info: %w", err)
	}

	if info.V4Address == "" {
		in.mu.Lock()
		info.V4Address = in.info.V4Address
		in.mu.Unlock()
	}
	return info, nil
}

// ensureFeed starts the feed if it is not running.
func (in *inlet) ensureFeed() (*feed, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return nil, lengine.Errorf(lengine.Lost, "%w", errInletClosed)
	}
	if in.lost != nil {
		return nil, in.lost
	}
	if in.feed != nil {
		return in.feed, nil
	}

	ctx, cancel := context.WithCancel(in.ctx)
	f := &feed{
		cancel: cancel,
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
	in.feed = f

	in.wg.Add(1)
	go in.runFeed(ctx, f)
	return f, nil
}

func (in *inlet) OpenStream(ctx context.Context) error {
	f, err := in.ensureFeed()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return lengine.Errorf(lengine.Timeout, "stream not opened: %w", context.Cause(ctx))
	case <-f.opened:
		return f.openErr
	}
}

func (in *inlet) CloseStream() {
	in.mu.Lock()
	f := in.feed
	if in.lost == nil {
		in.feed = nil
	}
	in.mu.Unlock()

	if f != nil {
		f.cancel()
		<-f.done
	}
	in.q.Clear()
}

// runFeed keeps the feed going until it is canceled
// or lost without the possibility of recovery.
func (in *inlet) runFeed(ctx context.Context, f *feed) {
	defer in.wg.Done()
	defer close(f.done)

	for {
		err := in.streamOnce(ctx, f)
		if ctx.Err() != nil {
			return
		}
		if code, ok := lquic.RemoteCloseCode(err); ok {
			in.log.Info("Outlet host closed the connection", "code", code)
		}

		in.mu.Lock()
		canRecover := in.recover && in.info.SourceID != ""
		in.mu.Unlock()

		if !canRecover {
			in.log.Info("Lost stream", "err", err)
			in.markLost(f, err)
			return
		}

		in.log.Info("Lost stream; attempting to recover", "err", err)
		if rerr := in.recoverStream(ctx); rerr != nil {
			if ctx.Err() != nil {
				return
			}
			in.log.Warn("Cannot recover stream", "err", rerr)
			in.markLost(f, rerr)
			return
		}
	}
}

// streamOnce subscribes to the outlet and receives chunks
// until the feed stream ends.
func (in *inlet) streamOnce(ctx context.Context, f *feed) error {
	conn, err := in.connection(ctx)
	if err != nil {
		return err
	}

	s, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("failed to open feed stream: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		s.CancelRead(lquic.StreamUnwantedCode)
		s.CancelWrite(lquic.StreamUnwantedCode)
	})
	defer stop()

	in.mu.Lock()
	info := in.info
	in.mu.Unlock()

	if err := lproto.WriteStreamType(s, lproto.FeedStreamType); err != nil {
		return fmt.Errorf("failed to write stream type: %w", err)
	}
	if err := lproto.WriteMessage(s, lproto.FeedRequest{
		UID:             info.UID,
		ProtocolVersion: lproto.ProtocolVersion,
		MaxBuffered:     in.q.Cap(),
		MaxChunkLen:     in.maxChunklen,
	}); err != nil {
		return fmt.Errorf("failed to write feed request: %w", err)
	}

	if err := s.SetReadDeadline(time.Now().Add(lproto.HandshakeTimeout)); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}
	var resp lproto.FeedResponse
	if err := lproto.ReadMessage(s, &resp); err != nil {
		return fmt.Errorf("failed to read feed response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("outlet refused feed: %s", resp.Error)
	}
	if lformat.ChannelFormat(resp.ChannelFormat) != info.ChannelFormat ||
		resp.ChannelCount != info.ChannelCount {
		s.CancelRead(lquic.StreamRejectedCode)
		s.CancelWrite(lquic.StreamRejectedCode)
		return errShape
	}
	if err := s.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("failed to clear read deadline: %w", err)
	}

	f.markOpened(nil)
	in.log.Debug("Feed opened", "uid", info.UID)

	dec := lproto.ChunkDecoder{
		Format:       info.ChannelFormat,
		ChannelCount: info.ChannelCount,
		NominalSrate: info.NominalSrate,
	}
	var (
		buf     []byte
		entries []lproto.Entry
	)
	for {
		buf, err = lproto.ReadFrame(s, buf)
		if err != nil {
			return err
		}

		entries, err = dec.Decode(entries[:0], buf)
		if err != nil {
			s.CancelRead(lquic.StreamRejectedCode)
			s.CancelWrite(lquic.StreamRejectedCode)
			return fmt.Errorf("failed to decode chunk: %w", err)
		}

		in.e.metrics.SamplesReceived.Add(float64(len(entries)))
		for _, en := range entries {
			if in.q.Push(en) {
				in.e.metrics.SamplesDropped.WithLabelValues("inlet").Inc()
			}
		}
		clear(entries)
	}
}

func (in *inlet) markLost(f *feed, cause error) {
	in.mu.Lock()
	if in.lost == nil {
		in.lost = lengine.Errorf(lengine.Lost, "stream lost: %w", cause)
	}
	lost := in.lost
	in.mu.Unlock()

	f.markOpened(lost)
	in.q.Close(lost)
}

// recoverStream re-resolves the stream by its source ID
// and points the inlet at the first instance found.
// It returns ctx's error if ctx finished first,
// or an error if the recovery query cannot be built.
func (in *inlet) recoverStream(ctx context.Context) error {
	in.mu.Lock()
	pred := linfo.StreamQuery(in.info.Name, in.info.Type, in.info.SourceID)
	in.mu.Unlock()

	q, err := linfo.CompileQuery(pred)
	if err != nil {
		// Retrying the same query cannot succeed.
		return fmt.Errorf("failed to build recovery query: %w", err)
	}

	for {
		rctx, cancel := context.WithTimeout(ctx, in.e.cfg.RecoverInterval)
		found, err := in.e.Resolve(rctx, q, 1)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil && len(found) > 0 {
			in.rehost(found[0])
			return nil
		}
		if err != nil {
			in.log.Debug("Recovery resolve failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(in.e.cfg.RecoverInterval):
			}
		}
	}
}

// rehost adopts the hosting fields of a recovered instance of the stream.
func (in *inlet) rehost(found *linfo.Info) {
	in.mu.Lock()
	defer in.mu.Unlock()

	old := in.info
	if old.V4Address != found.V4Address || old.V4DataPort != found.V4DataPort {
		if in.conn != nil {
			_ = in.conn.CloseWithError(lquic.NoErrorCode, "outlet moved")
			in.conn = nil
		}
	}

	info := old.Clone()
	info.UID = found.UID
	info.CreatedAt = found.CreatedAt
	info.SessionID = found.SessionID
	info.Hostname = found.Hostname
	info.V4Address = found.V4Address
	info.V4DataPort = found.V4DataPort
	info.V4ServicePort = found.V4ServicePort
	in.info = info

	in.log.Info("Recovered stream", "uid", info.UID, "hostname", info.Hostname)
}

func (in *inlet) TimeCorrection(ctx context.Context) (lengine.TimeCorrection, error) {
	if err := in.usable(); err != nil {
		return lengine.TimeCorrection{}, err
	}
	if _, err := in.connection(ctx); err != nil {
		return lengine.TimeCorrection{}, failure(ctx, "cannot measure time correction", err)
	}

	tc, ok := in.clock.wait(ctx)
	if !ok {
		return lengine.TimeCorrection{}, lengine.Errorf(
			lengine.Timeout, "no time correction yet: %w", context.Cause(ctx),
		)
	}
	return tc, nil
}

func (in *inlet) SetPostprocessing(f lpost.Flags) error {
	if !f.Valid() {
		return lengine.Errorf(lengine.Argument, "%w", &lpost.InvalidFlagsError{Flags: f})
	}
	in.post.SetFlags(f)
	return nil
}

func (in *inlet) PullSample(ctx context.Context) (*lformat.Sample, float64, error) {
	if err := in.usable(); err != nil {
		return nil, 0, err
	}
	if _, err := in.ensureFeed(); err != nil {
		return nil, 0, err
	}

	en, err := in.q.Pop(ctx)
	if err != nil {
		if err := in.usable(); err != nil {
			return nil, 0, err
		}
		if ctx.Err() != nil {
			return nil, 0, nil
		}
		return nil, 0, lengine.Errorf(lengine.Internal, "failed to pull sample: %w", err)
	}
	return en.Sample, in.post.Process(en.Timestamp), nil
}

func (in *inlet) SamplesAvailable() int {
	return in.q.Len()
}

func (in *inlet) WasClockReset() bool {
	return in.clock.takeCallerReset()
}

func (in *inlet) SmoothingHalftime(seconds float32) {
	in.post.SetHalftime(float64(seconds))
}

func (in *inlet) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	conn := in.conn
	in.conn = nil
	in.mu.Unlock()

	in.cancel(errInletClosed)
	if conn != nil {
		_ = conn.CloseWithError(lquic.NoErrorCode, "inlet closed")
	}
	in.q.Close(lengine.Errorf(lengine.Lost, "%w", errInletClosed))
	in.wg.Wait()
	return nil
}
