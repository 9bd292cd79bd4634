package lnet

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gordian-engine/lsl/internal/lproto"
	"github.com/gordian-engine/lsl/lclock"
	"github.com/gordian-engine/lsl/lengine"
	"github.com/gordian-engine/lsl/lquic"
)

// clockEstimate tracks the offset between an outlet's clock and ours.
type clockEstimate struct {
	log *slog.Logger

	// An offset jump beyond this many seconds is a clock reset.
	resetThreshold float64

	mu   sync.Mutex
	have bool
	tc   lengine.TimeCorrection

	// Separate reset flags so the caller and the postprocessor
	// each observe every reset.
	resetForCaller bool
	resetForPost   bool

	// Closed once the first estimate is available.
	ready chan struct{}
}

func newClockEstimate(log *slog.Logger, resetThreshold time.Duration) *clockEstimate {
	return &clockEstimate{
		log:            log,
		resetThreshold: resetThreshold.Seconds(),
		ready:          make(chan struct{}),
	}
}

func (c *clockEstimate) update(tc lengine.TimeCorrection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.have {
		c.have = true
		c.tc = tc
		close(c.ready)
		return
	}

	if math.Abs(tc.Offset-c.tc.Offset) > c.resetThreshold {
		c.log.Info(
			"Detected remote clock reset",
			"old_offset", c.tc.Offset,
			"new_offset", tc.Offset,
		)
		c.resetForCaller = true
		c.resetForPost = true
	}
	c.tc = tc
}

// wait blocks until the first estimate is available.
func (c *clockEstimate) wait(ctx context.Context) (lengine.TimeCorrection, bool) {
	select {
	case <-ctx.Done():
		return lengine.TimeCorrection{}, false
	case <-c.ready:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tc, true
}

// offset is the latest offset, or zero before the first estimate.
func (c *clockEstimate) offset() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tc.Offset
}

func (c *clockEstimate) takeCallerReset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.resetForCaller
	c.resetForCaller = false
	return r
}

func (c *clockEstimate) takePostReset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.resetForPost
	c.resetForPost = false
	return r
}

// completedProbe is a probe reply with its arrival time.
type completedProbe struct {
	lproto.ProbeReply
	T3 float64
}

// runProber sends bursts of time probes over conn until ctx is done,
// feeding the best estimate of each burst into est.
func (e *Engine) runProber(ctx context.Context, wg *sync.WaitGroup, conn lquic.Conn, est *clockEstimate) {
	defer wg.Done()

	replies := make(chan completedProbe, e.cfg.ProbeCount)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			dg, err := conn.ReceiveDatagram(ctx)
			if err != nil {
				return
			}
			t3 := lclock.Now()

			r, err := lproto.ParseProbeReply(dg)
			if err != nil {
				e.log.Debug("Ignoring malformed datagram", "err", err)
				continue
			}
			select {
			case replies <- completedProbe{ProbeReply: r, T3: t3}:
			default:
				// Stale replies from a timed out burst.
			}
		}
	}()

	ticker := time.NewTicker(e.cfg.ProbeInterval)
	defer ticker.Stop()

	for burst := uint32(0); ; burst++ {
		if tc, ok := e.probeBurst(ctx, conn, burst, replies); ok {
			est.update(tc)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probeBurst sends one burst of probes and returns the estimate
// of the reply with the smallest round trip time.
func (e *Engine) probeBurst(
	ctx context.Context, conn lquic.Conn, burst uint32, replies <-chan completedProbe,
) (lengine.TimeCorrection, bool) {
	// Only the low 24 bits of the burst number fit in a probe ID.
	base := (burst & 0xFFFFFF) << 8
	for k := range e.cfg.ProbeCount {
		p := lproto.Probe{ID: base | uint32(k), T0: lclock.Now()}
		if err := conn.SendDatagram(p.Bytes()); err != nil {
			e.log.Debug("Failed to send time probe", "err", err)
			return lengine.TimeCorrection{}, false
		}
	}

	timer := time.NewTimer(e.cfg.ProbeTimeout)
	defer timer.Stop()

	var (
		best    lengine.TimeCorrection
		bestRTT = math.Inf(1)
		got     int
	)
	for got < e.cfg.ProbeCount {
		select {
		case <-ctx.Done():
			return lengine.TimeCorrection{}, false
		case <-timer.C:
			return best, got > 0
		case r := <-replies:
			if r.ID&^0xFF != base {
				continue
			}
			got++
			offset, remote, rtt := r.Estimate(r.T3)
			if rtt < bestRTT {
				bestRTT = rtt
				best = lengine.TimeCorrection{
					Offset:      offset,
					RemoteTime:  remote,
					Uncertainty: rtt,
				}
			}
		}
	}
	return best, true
}
