package lsltest

import (
	"context"
	"sync"

	"github.com/gordian-engine/lsl/internal/lproto"
	"github.com/gordian-engine/lsl/internal/lqueue"
	"github.com/gordian-engine/lsl/lengine"
	"github.com/gordian-engine/lsl/lformat"
	"github.com/gordian-engine/lsl/linfo"
	"github.com/gordian-engine/lsl/lpost"
)

// Inlet is an in-memory subscription to an [Outlet].
type Inlet struct {
	e *Engine
	o *Outlet

	q    *lqueue.Queue[lproto.Entry]
	post *lpost.Postprocessor

	mu         sync.Mutex
	subscribed bool
}

var _ lengine.Inlet = (*Inlet)(nil)

// NewInlet subscribes to the hosted outlet with the uid of info.
// An inlet for an outlet that no longer exists is lost on first use.
func (e *Engine) NewInlet(info *linfo.Info, maxBuflen, maxChunklen int, recover bool) (lengine.Inlet, error) {
	if maxBuflen < 0 || maxChunklen < 0 {
		return nil, lengine.Errorf(lengine.Argument, "negative buffer or chunk length")
	}
	if info.UID == "" {
		return nil, lengine.Errorf(lengine.Argument, "stream %s was not obtained by resolution", info.Name)
	}

	n := maxBuflen * 100
	if info.NominalSrate > 0 {
		n = int(float64(maxBuflen) * info.NominalSrate)
	}

	in := &Inlet{
		e: e,
		o: e.Outlet(info.UID),
		q: lqueue.New[lproto.Entry](max(n, 1)),
	}
	in.post = lpost.NewPostprocessor(lpost.Config{
		SampleRate: info.NominalSrate,
		Correction: func() float64 { return e.Offset },
		Now:        e.LocalClock,
	})
	return in, nil
}

// subscribe registers with the outlet if not yet done.
func (in *Inlet) subscribe() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.o == nil {
		return errLost
	}
	if in.subscribed {
		return nil
	}

	in.o.mu.Lock()
	defer in.o.mu.Unlock()
	if in.o.closed {
		return errLost
	}
	in.o.inlets[in] = struct{}{}
	if len(in.o.inlets) == 1 {
		close(in.o.haveConsumers)
	}
	in.subscribed = true
	return nil
}

func (in *Inlet) unsubscribe() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.subscribed {
		return
	}
	in.o.mu.Lock()
	delete(in.o.inlets, in)
	if len(in.o.inlets) == 0 {
		in.o.haveConsumers = make(chan struct{})
	}
	in.o.mu.Unlock()
	in.subscribed = false
}

// lost reports whether the outlet is gone.
func (in *Inlet) lost() bool {
	if in.o == nil {
		return true
	}
	in.o.mu.Lock()
	defer in.o.mu.Unlock()
	return in.o.closed
}

func (in *Inlet) FullInfo(context.Context) (*linfo.Info, error) {
	if in.lost() {
		return nil, errLost
	}
	return in.o.Info(), nil
}

func (in *Inlet) OpenStream(context.Context) error {
	if in.lost() {
		return errLost
	}
	return in.subscribe()
}

func (in *Inlet) CloseStream() {
	in.unsubscribe()
	in.q.Clear()
}

func (in *Inlet) TimeCorrection(context.Context) (lengine.TimeCorrection, error) {
	return lengine.TimeCorrection{
		Offset:     in.e.Offset,
		RemoteTime: in.e.LocalClock(),
	}, nil
}

func (in *Inlet) SetPostprocessing(f lpost.Flags) error {
	if !f.Valid() {
		return lengine.Errorf(lengine.Argument, "%w", &lpost.InvalidFlagsError{Flags: f})
	}
	in.post.SetFlags(f)
	return nil
}

// PullSample reports a lost outlet before any samples still buffered,
// as the networked engine does.
func (in *Inlet) PullSample(ctx context.Context) (*lformat.Sample, float64, error) {
	if in.lost() {
		return nil, 0, errLost
	}
	if err := in.subscribe(); err != nil {
		return nil, 0, err
	}

	en, err := in.q.Pop(ctx)
	if err != nil {
		if in.lost() {
			return nil, 0, errLost
		}
		if ctx.Err() != nil {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	return en.Sample, in.post.Process(en.Timestamp), nil
}

func (in *Inlet) SamplesAvailable() int { return in.q.Len() }

func (in *Inlet) WasClockReset() bool { return false }

func (in *Inlet) SmoothingHalftime(seconds float32) {
	in.post.SetHalftime(float64(seconds))
}

func (in *Inlet) Close() error {
	in.unsubscribe()
	in.q.Close(lengine.Errorf(lengine.Lost, "inlet closed"))
	return nil
}
