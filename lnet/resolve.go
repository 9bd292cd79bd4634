package lnet

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gordian-engine/lsl/internal/lproto"
	"github.com/gordian-engine/lsl/lengine"
	"github.com/gordian-engine/lsl/linfo"
)

// Resolve sends query waves until minimum distinct streams answered,
// MaxResolveResults streams answered, or ctx is done.
// A minimum of zero waits for the whole of ctx.
func (e *Engine) Resolve(ctx context.Context, q *linfo.Query, minimum int) ([]*linfo.Info, error) {
	if e.stopped() {
		return nil, lengine.Errorf(lengine.Internal, "cannot resolve: %w", errStopped)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, lengine.Errorf(lengine.Internal, "failed to open resolve socket: %w", err)
	}
	defer conn.Close()

	id := rand.Uint64()
	dg, err := lproto.AppendQuery(nil, lproto.Query{
		ID:        id,
		SessionID: e.cfg.SessionID,
		Predicate: q.String(),
	})
	if err != nil {
		return nil, lengine.Errorf(lengine.Argument, "cannot send query: %w", err)
	}
	targets := e.queryTargets()

	// Also stop when the engine stops.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	return e.collectResponses(ctx, conn, dg, targets, id, minimum)
}

// collectResponses sends query waves of dg to targets over conn
// and gathers the distinct declarations answering queryID.
func (e *Engine) collectResponses(
	ctx context.Context,
	conn *net.UDPConn,
	dg []byte,
	targets []*net.UDPAddr,
	queryID uint64,
	minimum int,
) ([]*linfo.Info, error) {
	var (
		mu      sync.Mutex
		byUID   = make(map[string]struct{})
		results []*linfo.Info
	)
	done := make(chan struct{})
	var doneOnce sync.Once
	finish := func() { doneOnce.Do(func() { close(done) }) }

	g, gctx := errgroup.WithContext(ctx)

	// Query waves.
	g.Go(func() error {
		t := time.NewTicker(e.cfg.ResolveWaveInterval)
		defer t.Stop()
		for {
			e.sendQueryWave(conn, dg, targets)
			select {
			case <-gctx.Done():
				return nil
			case <-done:
				return nil
			case <-t.C:
			}
		}
	})

	// Responses.
	g.Go(func() error {
		err := e.readResponses(conn, queryID, func(info *linfo.Info) bool {
			mu.Lock()
			defer mu.Unlock()

			if _, ok := byUID[info.UID]; !ok {
				byUID[info.UID] = struct{}{}
				results = append(results, info)
			}

			if (minimum > 0 && len(results) >= minimum) || len(results) >= e.cfg.MaxResolveResults {
				finish()
				return false
			}
			return true
		})
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("failed to read discovery responses: %w", err)
		}
		return nil
	})

	// Unblock the response reader.
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-done:
		}
		_ = conn.SetReadDeadline(time.Now())
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, lengine.Errorf(lengine.Internal, "resolve failed: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return results, nil
}

// resolver is the continuous background resolution returned by [Engine.NewResolver].
type resolver struct {
	e *Engine

	forgetAfter time.Duration

	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	seen map[string]seenInfo
}

type seenInfo struct {
	info *linfo.Info
	at   time.Time
}

// NewResolver starts background query waves for q.
// Streams not heard from within forgetAfter are omitted from the results.
func (e *Engine) NewResolver(q *linfo.Query, forgetAfter time.Duration) (lengine.Resolver, error) {
	if forgetAfter <= 0 {
		return nil, lengine.Errorf(
			lengine.Argument, "forget-after duration must be positive (got %s)", forgetAfter,
		)
	}
	if e.stopped() {
		return nil, lengine.Errorf(lengine.Internal, "cannot create resolver: %w", errStopped)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, lengine.Errorf(lengine.Internal, "failed to open resolver socket: %w", err)
	}

	id := rand.Uint64()
	dg, err := lproto.AppendQuery(nil, lproto.Query{
		ID:        id,
		SessionID: e.cfg.SessionID,
		Predicate: q.String(),
	})
	if err != nil {
		conn.Close()
		return nil, lengine.Errorf(lengine.Argument, "cannot send query: %w", err)
	}

	ctx, cancel := context.WithCancel(e.ctx)
	r := &resolver{
		e:           e,
		forgetAfter: forgetAfter,
		conn:        conn,
		cancel:      cancel,
		seen:        make(map[string]seenInfo),
	}

	r.wg.Add(2)
	go r.sendWaves(ctx, dg)
	go r.receive(ctx, id)

	return r, nil
}

func (r *resolver) sendWaves(ctx context.Context, dg []byte) {
	defer r.wg.Done()

	t := time.NewTicker(r.e.cfg.ResolveWaveInterval)
	defer t.Stop()

	for {
		// Peers may come and go, so targets are refreshed every wave.
		r.e.sendQueryWave(r.conn, dg, r.e.queryTargets())

		select {
		case <-ctx.Done():
			// Unblock the receiver.
			_ = r.conn.SetReadDeadline(time.Now())
			return
		case <-t.C:
		}
	}
}

func (r *resolver) receive(ctx context.Context, id uint64) {
	defer r.wg.Done()

	err := r.e.readResponses(r.conn, id, func(info *linfo.Info) bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen[info.UID] = seenInfo{info: info, at: time.Now()}
		return true
	})
	if ctx.Err() == nil {
		r.e.log.Warn("Continuous resolver stopped receiving responses", "err", err)
	}
}

func (r *resolver) Results() []*linfo.Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.forgetAfter)
	out := make([]*linfo.Info, 0, len(r.seen))
	for uid, s := range r.seen {
		if s.at.Before(cutoff) {
			delete(r.seen, uid)
			continue
		}
		out = append(out, s.info.Clone())
	}
	return out
}

func (r *resolver) Close() error {
	r.cancel()
	r.wg.Wait()
	return r.conn.Close()
}
