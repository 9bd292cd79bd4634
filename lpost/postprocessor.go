package lpost

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/gordian-engine/lsl/lclock"
)

// DefaultHalftime is the default smoothing half-time in seconds.
const DefaultHalftime = 90.0

// Default values for the clock offset refresh schedule.
const (
	DefaultCorrectionInterval = 0.5
	DefaultCorrectionSamples  = 50
)

// Config is the configuration for [NewPostprocessor].
type Config struct {
	// Nominal rate of the stream; dejittering only applies to regular streams.
	SampleRate float64

	// Smoothing half-time in seconds. Zero means DefaultHalftime.
	Halftime float64

	// Correction returns the current offset to add to remote timestamps.
	// Required if ClockSync may be enabled.
	Correction func() float64

	// ClockReset reports whether the remote clock was reset
	// since it was last called.
	// Optional.
	ClockReset func() bool

	// The offset is refreshed at most once per CorrectionInterval seconds
	// and only after CorrectionSamples samples.
	// Zero values select the defaults;
	// negative values refresh the offset on every sample.
	CorrectionInterval float64
	CorrectionSamples  int

	// Now is the clock used for scheduling offset refreshes.
	// Defaults to lclock.Now.
	Now func() float64
}

// Postprocessor rewrites received timestamps according to its [Flags].
//
// Unless Threadsafe is set, Process must not be called concurrently.
type Postprocessor struct {
	flags atomic.Uint32

	mu sync.Mutex

	srate              float64
	halftime           float64
	correction         func() float64
	clockReset         func() bool
	correctionInterval float64
	correctionSamples  int
	now                func() float64

	offset          float64
	haveOffset      bool
	nextQuery       float64
	sinceLastQuery  int
	lastValue       float64
	dj              dejitterer
	dejitterStarted bool
}

// NewPostprocessor returns a Postprocessor with no flags set.
func NewPostprocessor(cfg Config) *Postprocessor {
	p := &Postprocessor{
		srate:              cfg.SampleRate,
		halftime:           cfg.Halftime,
		correction:         cfg.Correction,
		clockReset:         cfg.ClockReset,
		correctionInterval: cfg.CorrectionInterval,
		correctionSamples:  cfg.CorrectionSamples,
		now:                cfg.Now,

		lastValue: math.Inf(-1),
	}
	if p.halftime <= 0 {
		p.halftime = DefaultHalftime
	}
	if p.correctionInterval == 0 {
		p.correctionInterval = DefaultCorrectionInterval
	}
	if p.correctionSamples == 0 {
		p.correctionSamples = DefaultCorrectionSamples
	}
	if p.now == nil {
		p.now = lclock.Now
	}
	return p
}

// SetFlags replaces the active flags.
// It panics if f contains unknown flags;
// callers are expected to check [Flags.Valid] first.
func (p *Postprocessor) SetFlags(f Flags) {
	if !f.Valid() {
		panic(&InvalidFlagsError{Flags: f})
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	old := Flags(p.flags.Swap(uint32(f)))
	if old&ClockSync != f&ClockSync {
		p.haveOffset = false
	}
	if old&Dejitter != f&Dejitter {
		p.dejitterStarted = false
	}
	p.lastValue = math.Inf(-1)
}

// Flags returns the active flags.
func (p *Postprocessor) Flags() Flags {
	return Flags(p.flags.Load())
}

// SetHalftime changes the smoothing half-time, restarting the smoothing.
// Non-positive values are ignored.
func (p *Postprocessor) SetHalftime(seconds float64) {
	if seconds <= 0 || math.IsNaN(seconds) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.halftime = seconds
	p.dejitterStarted = false
}

// Process returns the post-processed form of the received timestamp ts.
func (p *Postprocessor) Process(ts float64) float64 {
	f := Flags(p.flags.Load())
	if f&^Threadsafe == None {
		return ts
	}

	if f&Threadsafe != 0 {
		p.mu.Lock()
		defer p.mu.Unlock()
	}

	if f&ClockSync != 0 && p.correction != nil {
		p.sinceLastQuery++
		if !p.haveOffset || p.refreshDue() {
			p.offset = p.correction()
			p.haveOffset = true
			p.nextQuery = p.now() + p.correctionInterval
			p.sinceLastQuery = 0

			if p.clockReset != nil && p.clockReset() {
				// Smoothing state from before the reset is meaningless.
				p.dejitterStarted = false
				p.lastValue = math.Inf(-1)
			}
		}
		ts += p.offset
	}

	if f&Dejitter != 0 && p.srate > 0 {
		if !p.dejitterStarted {
			p.dj = newDejitterer(ts, p.srate, p.halftime)
			p.dejitterStarted = true
		}
		ts = p.dj.dejitter(ts)
	}

	if f&Monotonize != 0 && ts < p.lastValue {
		ts = p.lastValue
	}
	p.lastValue = ts
	return ts
}

func (p *Postprocessor) refreshDue() bool {
	if p.correctionInterval < 0 || p.correctionSamples < 0 {
		return true
	}
	return p.sinceLastQuery > p.correctionSamples && p.now() > p.nextQuery
}

// dejitterer is a recursive least squares fit of
// timestamp = w0 + w1*n over the sample index n,
// with exponential forgetting.
type dejitterer struct {
	t0            float64
	n             float64
	w0, w1        float64
	p00, p01, p11 float64
	lambda        float64
}

func newDejitterer(t0, srate, halftime float64) dejitterer {
	return dejitterer{
		// Subtracting a baseline keeps the regression numerically stable.
		t0:     math.Floor(t0),
		w1:     1 / srate,
		p00:    1e10,
		p11:    1e10,
		lambda: math.Pow(2, -1/(srate*halftime)),
	}
}

func (d *dejitterer) dejitter(t float64) float64 {
	t -= d.t0

	u1 := d.n
	d.n++

	// pi = u' P, gamma = lambda + pi u, k = pi' / gamma.
	pi0 := d.p00 + u1*d.p01
	pi1 := d.p01 + u1*d.p11
	gamma := d.lambda + pi0 + pi1*u1
	k0 := pi0 / gamma
	k1 := pi1 / gamma

	err := t - (d.w0 + u1*d.w1)
	d.w0 += k0 * err
	d.w1 += k1 * err

	d.p00 = (d.p00 - k0*pi0) / d.lambda
	d.p01 = (d.p01 - k0*pi1) / d.lambda
	d.p11 = (d.p11 - k1*pi1) / d.lambda

	return d.w0 + u1*d.w1 + d.t0
}
