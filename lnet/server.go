package lnet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/gordian-engine/lsl/internal/lproto"
	"github.com/gordian-engine/lsl/lclock"
	"github.com/gordian-engine/lsl/lquic"
)

// acceptConnections accepts incoming connections from inlets
// and serves their streams and time probes.
func (e *Engine) acceptConnections(ctx context.Context) {
	defer e.wg.Done()

	for {
		qc, err := e.quicListener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				e.log.Info(
					"Accept loop quitting due to context cancellation when accepting connection",
					"cause", context.Cause(ctx),
				)
				return
			}

			// Debug-level because this could be spammy if we are getting a lot of garbage connections.
			e.log.Debug("Failed to accept incoming connection", "err", err)
			continue
		}

		conn := lquic.WrapConn(qc)
		e.wg.Add(2)
		go e.serveStreams(ctx, conn)
		go e.answerProbes(ctx, conn)
	}
}

func (e *Engine) serveStreams(ctx context.Context, conn lquic.Conn) {
	defer e.wg.Done()

	for {
		s, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				_ = conn.CloseWithError(lquic.EngineStoppingCode, "engine stopping")
				return
			}
			e.log.Debug(
				"Stopped accepting streams from inlet connection",
				"remote_addr", conn.RemoteAddr().String(),
				"err", err,
			)
			return
		}

		e.wg.Add(1)
		go e.handleStream(ctx, conn, s)
	}
}

func (e *Engine) handleStream(ctx context.Context, conn lquic.Conn, s lquic.Stream) {
	defer e.wg.Done()

	if err := s.SetReadDeadline(time.Now().Add(lproto.HandshakeTimeout)); err != nil {
		e.log.Debug("Failed to set stream read deadline", "err", err)
		s.CancelRead(lquic.StreamRejectedCode)
		s.CancelWrite(lquic.StreamRejectedCode)
		return
	}

	st, err := lproto.ReadStreamType(s)
	if err != nil {
		e.log.Debug("Failed to read stream type", "remote_addr", conn.RemoteAddr().String(), "err", err)
		s.CancelRead(lquic.StreamRejectedCode)
		s.CancelWrite(lquic.StreamRejectedCode)
		return
	}

	switch st {
	case lproto.FullInfoStreamType:
		e.serveFullInfo(conn, s)
	case lproto.FeedStreamType:
		e.serveFeed(ctx, conn, s)
	default:
		e.log.Debug("Closing connection after stream of unknown type", "remote_addr", conn.RemoteAddr().String(), "type", st)
		_ = conn.CloseWithError(lquic.ProtocolErrorCode, "unknown stream type")
	}
}

func (e *Engine) serveFullInfo(conn lquic.Conn, s lquic.Stream) {
	var req lproto.FullInfoRequest
	if err := lproto.ReadMessage(s, &req); err != nil {
		e.log.Debug("Failed to read full info request", "remote_addr", conn.RemoteAddr().String(), "err", err)
		s.CancelRead(lquic.StreamRejectedCode)
		s.CancelWrite(lquic.StreamRejectedCode)
		return
	}

	var resp lproto.FullInfoResponse
	if o := e.lookupOutlet(req.UID); o != nil {
		resp = lproto.NewFullInfoResponse(o.info.XML())
	} else {
		resp.Error = "unknown stream " + req.UID
	}

	if err := s.SetWriteDeadline(time.Now().Add(lproto.HandshakeTimeout)); err != nil {
		s.CancelWrite(lquic.StreamRejectedCode)
		return
	}
	if err := lproto.WriteMessage(s, resp); err != nil {
		e.log.Debug("Failed to write full info response", "remote_addr", conn.RemoteAddr().String(), "err", err)
		s.CancelWrite(lquic.StreamRejectedCode)
		return
	}
	_ = s.Close()
}

var errConsumerGone = errors.New("inlet closed the feed")

func (e *Engine) serveFeed(ctx context.Context, conn lquic.Conn, s lquic.Stream) {
	log := e.log.With("remote_addr", conn.RemoteAddr().String())

	var req lproto.FeedRequest
	if err := lproto.ReadMessage(s, &req); err != nil {
		log.Debug("Failed to read feed request", "err", err)
		s.CancelRead(lquic.StreamRejectedCode)
		s.CancelWrite(lquic.StreamRejectedCode)
		return
	}
	if req.ProtocolVersion/100 != lproto.ProtocolVersion/100 {
		e.rejectFeed(log, s, "incompatible protocol version")
		return
	}

	o := e.lookupOutlet(req.UID)
	if o == nil {
		e.rejectFeed(log, s, "unknown stream "+req.UID)
		return
	}
	c := o.addConsumer(req.MaxBuffered)
	if c == nil {
		e.rejectFeed(log, s, "stream closed")
		return
	}
	defer o.removeConsumer(c)

	if err := s.SetWriteDeadline(time.Now().Add(lproto.HandshakeTimeout)); err != nil {
		s.CancelWrite(lquic.StreamRejectedCode)
		return
	}
	if err := lproto.WriteMessage(s, lproto.FeedResponse{
		ChannelFormat: uint8(o.info.ChannelFormat),
		ChannelCount:  o.info.ChannelCount,
		NominalSrate:  o.info.NominalSrate,
	}); err != nil {
		log.Debug("Failed to write feed response", "err", err)
		s.CancelWrite(lquic.StreamRejectedCode)
		return
	}

	// Frames may block on flow control for as long as the inlet is slow.
	if err := s.SetWriteDeadline(time.Time{}); err != nil {
		s.CancelWrite(lquic.StreamRejectedCode)
		return
	}
	if err := s.SetReadDeadline(time.Time{}); err != nil {
		s.CancelWrite(lquic.StreamRejectedCode)
		return
	}

	// The inlet never writes after its request,
	// so the read side only reports the inlet going away.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, _ = io.Copy(io.Discard, s)
		c.q.Close(errConsumerGone)
	}()

	log = log.With("uid", o.info.UID)
	log.Info("Consumer connected")

	limit := req.MaxChunkLen
	if limit <= 0 || limit > c.q.Cap() {
		limit = c.q.Cap()
	}

	enc := lproto.ChunkEncoder{NominalSrate: o.srate}
	var (
		batch []lproto.Entry
		frame []byte
	)
	flush := func() error {
		frame = enc.Append(frame[:0], batch)
		if err := lproto.WriteFrame(s, frame); err != nil {
			return err
		}
		e.metrics.SamplesSent.Add(float64(len(batch)))
		clear(batch)
		batch = batch[:0]
		return nil
	}

	for {
		it, err := c.q.Pop(ctx)
		if err != nil {
			if errors.Is(err, errOutletClosed) && len(batch) > 0 {
				if err := flush(); err != nil {
					log.Debug("Failed to write final chunk", "err", err)
				}
			}
			log.Info("Consumer disconnected", "cause", err)
			if errors.Is(err, errConsumerGone) {
				s.CancelWrite(lquic.StreamUnwantedCode)
			} else {
				_ = s.Close()
			}
			return
		}

		batch = append(batch, it.Entry)
		if it.pushthrough || len(batch) >= limit {
			if err := flush(); err != nil {
				log.Info("Failed to write chunk; dropping consumer", "err", err)
				s.CancelWrite(lquic.StreamUnwantedCode)
				return
			}
		}
	}
}

func (e *Engine) rejectFeed(log *slog.Logger, s lquic.Stream, reason string) {
	log.Debug("Rejecting feed request", "reason", reason)
	if err := s.SetWriteDeadline(time.Now().Add(lproto.HandshakeTimeout)); err == nil {
		_ = lproto.WriteMessage(s, lproto.FeedResponse{Error: reason})
	}
	_ = s.Close()
}

// answerProbes replies to every time probe datagram on conn.
func (e *Engine) answerProbes(ctx context.Context, conn lquic.Conn) {
	defer e.wg.Done()

	for {
		dg, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		t1 := lclock.Now()

		p, err := lproto.ParseProbe(dg)
		if err != nil {
			e.log.Debug("Ignoring malformed datagram", "remote_addr", conn.RemoteAddr().String(), "err", err)
			continue
		}

		reply := lproto.ProbeReply{ID: p.ID, T0: p.T0, T1: t1, T2: lclock.Now()}
		if err := conn.SendDatagram(reply.Bytes()); err != nil {
			e.log.Debug("Failed to send probe reply", "remote_addr", conn.RemoteAddr().String(), "err", err)
		}
	}
}
