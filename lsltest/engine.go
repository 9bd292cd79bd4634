// Package lsltest contains an in-memory engine for testing code that uses package lsl.
//
// The engine connects outlets and inlets within the process,
// records every pushed sample,
// and answers resolution from its own outlets only.
package lsltest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordian-engine/lsl/internal/lproto"
	"github.com/gordian-engine/lsl/lclock"
	"github.com/gordian-engine/lsl/lengine"
	"github.com/gordian-engine/lsl/lformat"
	"github.com/gordian-engine/lsl/linfo"
)

// Engine is an in-memory [lengine.Engine].
type Engine struct {
	// Clock is the engine's local clock. Defaults to lclock.Now.
	// Set it before creating any endpoint.
	Clock func() float64

	// Offset is reported by every inlet's time correction.
	Offset float64

	mu      sync.Mutex
	nextID  int
	outlets map[string]*Outlet
	gone    map[string]goneOutlet
}

type goneOutlet struct {
	info *linfo.Info
	at   time.Time
}

var _ lengine.Engine = (*Engine)(nil)

// NewEngine returns an empty Engine.
func NewEngine() *Engine {
	return &Engine{
		outlets: make(map[string]*Outlet),
		gone:    make(map[string]goneOutlet),
	}
}

func (e *Engine) LocalClock() float64 {
	if e.Clock != nil {
		return e.Clock()
	}
	return lclock.Now()
}

// Outlet returns the hosted outlet with the given uid, or nil.
func (e *Engine) Outlet(uid string) *Outlet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outlets[uid]
}

func (e *Engine) NewOutlet(info *linfo.Info, chunkSize, maxBuffered int) (lengine.Outlet, error) {
	if chunkSize < 0 || maxBuffered < 0 {
		return nil, lengine.Errorf(lengine.Argument, "negative chunk size or buffer")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	hosted := info.Clone()
	hosted.Version = lproto.ProtocolVersion
	hosted.CreatedAt = e.LocalClock()
	hosted.UID = fmt.Sprintf("memory-%d", e.nextID)
	hosted.SessionID = "default"
	hosted.Hostname = "memory"

	o := &Outlet{
		e:             e,
		info:          hosted,
		chunkSize:     chunkSize,
		inlets:        make(map[*Inlet]struct{}),
		haveConsumers: make(chan struct{}),
	}
	e.outlets[hosted.UID] = o
	return o, nil
}

// shortInfo is what resolution reports: the declaration without its description.
func shortInfo(info *linfo.Info) *linfo.Info {
	s, err := linfo.Parse(info.ShortXML())
	if err != nil {
		panic(fmt.Errorf("BUG: failed to parse own short info: %w", err))
	}
	return s
}

func (e *Engine) matching(q *linfo.Query) []*linfo.Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*linfo.Info
	for _, o := range e.outlets {
		if q.Matches(o.info) {
			out = append(out, shortInfo(o.info))
		}
	}
	return out
}

// Resolve polls the hosted outlets until minimum match or ctx is done.
func (e *Engine) Resolve(ctx context.Context, q *linfo.Query, minimum int) ([]*linfo.Info, error) {
	for {
		found := e.matching(q)
		if minimum > 0 && len(found) >= minimum {
			return found, nil
		}

		select {
		case <-ctx.Done():
			return e.matching(q), nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (e *Engine) NewResolver(q *linfo.Query, forgetAfter time.Duration) (lengine.Resolver, error) {
	if forgetAfter <= 0 {
		return nil, lengine.Errorf(lengine.Argument, "forget-after must be positive")
	}
	return &resolver{e: e, q: q, forgetAfter: forgetAfter}, nil
}

type resolver struct {
	e           *Engine
	q           *linfo.Query
	forgetAfter time.Duration
}

// Results includes closed outlets until forgetAfter has passed since they closed.
func (r *resolver) Results() []*linfo.Info {
	out := r.e.matching(r.q)

	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	cutoff := time.Now().Add(-r.forgetAfter)
	for _, g := range r.e.gone {
		if g.at.After(cutoff) && r.q.Matches(g.info) {
			out = append(out, shortInfo(g.info))
		}
	}
	return out
}

func (r *resolver) Close() error { return nil }

// Push is one sample pushed into an [Outlet].
type Push struct {
	Sample *lformat.Sample

	// Timestamp as passed by the caller, possibly the deduced timestamp marker.
	Timestamp float64

	// Resolved is the timestamp after deduction.
	Resolved float64

	// Pushthrough after the outlet's chunk size was applied.
	Pushthrough bool
}

// Outlet is a hosted in-memory stream.
type Outlet struct {
	e         *Engine
	info      *linfo.Info
	chunkSize int

	mu            sync.Mutex
	closed        bool
	pushes        []Push
	lastTS        float64
	havePrev      bool
	sinceSend     int
	inlets        map[*Inlet]struct{}
	haveConsumers chan struct{}
}

var _ lengine.Outlet = (*Outlet)(nil)

func (o *Outlet) Info() *linfo.Info { return o.info.Clone() }

// Pushes returns every sample pushed so far.
func (o *Outlet) Pushes() []Push {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Push(nil), o.pushes...)
}

func (o *Outlet) PushSample(s *lformat.Sample, ts float64, pushthrough bool) error {
	if s.Format() != o.info.ChannelFormat || s.Len() != o.info.ChannelCount {
		return lengine.Errorf(lengine.Argument, "sample shape mismatch")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return lengine.Errorf(lengine.Lost, "outlet closed")
	}

	p := Push{Sample: s.Clone(), Timestamp: ts, Resolved: ts, Pushthrough: pushthrough}
	if ts == -1 {
		if o.havePrev {
			p.Resolved = lproto.NextTimestamp(o.lastTS, o.info.NominalSrate)
		} else {
			p.Resolved = o.e.LocalClock()
		}
	}
	o.lastTS = p.Resolved
	o.havePrev = true

	if o.chunkSize > 0 {
		o.sinceSend++
		p.Pushthrough = o.sinceSend >= o.chunkSize
		if p.Pushthrough {
			o.sinceSend = 0
		}
	}
	o.pushes = append(o.pushes, p)

	for in := range o.inlets {
		in.q.Push(lproto.Entry{Sample: p.Sample.Clone(), Timestamp: p.Resolved})
	}
	return nil
}

func (o *Outlet) HaveConsumers() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inlets) > 0
}

func (o *Outlet) WaitForConsumers(ctx context.Context) bool {
	o.mu.Lock()
	ch := o.haveConsumers
	o.mu.Unlock()

	select {
	case <-ctx.Done():
		return o.HaveConsumers()
	case <-ch:
		return true
	}
}

func (o *Outlet) Close() error {
	o.e.mu.Lock()
	delete(o.e.outlets, o.info.UID)
	o.e.gone[o.info.UID] = goneOutlet{info: o.info, at: time.Now()}
	o.e.mu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	for in := range o.inlets {
		in.q.Close(errLost)
	}
	return nil
}

var errLost = lengine.Errorf(lengine.Lost, "outlet closed")
