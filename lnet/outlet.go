package lnet

import (
	"context"
	"errors"
	"sync"

	"github.com/gordian-engine/lsl/internal/lproto"
	"github.com/gordian-engine/lsl/internal/lqueue"
	"github.com/gordian-engine/lsl/lclock"
	"github.com/gordian-engine/lsl/lengine"
	"github.com/gordian-engine/lsl/lformat"
	"github.com/gordian-engine/lsl/linfo"
)

// deducedTimestamp is the timestamp value requesting deduction
// from the previous sample.
const deducedTimestamp = -1.0

// irregularBufferFactor converts a buffer duration to a sample count
// for streams without a nominal rate.
const irregularBufferFactor = 100

// bufferSamples converts a buffer length in seconds (or, for irregular streams,
// in hundreds of samples) to a sample count of at least one.
func bufferSamples(length int, srate float64) int {
	var n int
	if srate > 0 {
		n = int(float64(length) * srate)
	} else {
		n = length * irregularBufferFactor
	}
	return max(n, 1)
}

// outlet is a stream hosted by an [Engine].
type outlet struct {
	e    *Engine
	info *linfo.Info

	srate     float64
	chunkSize int
	capacity  int

	mu        sync.Mutex
	closed    bool
	consumers map[*consumer]struct{}

	// Closed when the first consumer arrives and replaced when the last one leaves.
	haveConsumers chan struct{}

	lastTS    float64
	havePrev  bool
	sinceSend int
}

var _ lengine.Outlet = (*outlet)(nil)

// item is one pushed sample queued for a consumer.
type item struct {
	lproto.Entry
	pushthrough bool
}

func newOutlet(e *Engine, info *linfo.Info, chunkSize, maxBuffered int) *outlet {
	return &outlet{
		e:    e,
		info: info,

		srate:     info.NominalSrate,
		chunkSize: chunkSize,
		capacity:  bufferSamples(maxBuffered, info.NominalSrate),

		consumers:     make(map[*consumer]struct{}),
		haveConsumers: make(chan struct{}),
	}
}

func (o *outlet) Info() *linfo.Info {
	return o.info.Clone()
}

var errOutletClosed = errors.New("outlet closed")

func (o *outlet) PushSample(s *lformat.Sample, ts float64, pushthrough bool) error {
	if s.Format() != o.info.ChannelFormat || s.Len() != o.info.ChannelCount {
		return lengine.Errorf(
			lengine.Argument,
			"sample shape %s[%d] does not match stream %s[%d]",
			s.Format(), s.Len(), o.info.ChannelFormat, o.info.ChannelCount,
		)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return lengine.Errorf(lengine.Lost, "cannot push: %w", errOutletClosed)
	}

	deduced := ts == deducedTimestamp
	switch {
	case deduced && o.havePrev:
		ts = lproto.NextTimestamp(o.lastTS, o.srate)
	case deduced:
		// Nothing to deduce from.
		ts = lclock.Now()
		deduced = false
	}
	o.lastTS = ts
	o.havePrev = true

	if o.chunkSize > 0 {
		o.sinceSend++
		pushthrough = o.sinceSend >= o.chunkSize
		if pushthrough {
			o.sinceSend = 0
		}
	}

	o.e.metrics.SamplesPushed.Inc()
	if len(o.consumers) == 0 {
		return nil
	}

	it := item{
		Entry: lproto.Entry{
			// Consumers only read the sample, so one copy is shared.
			Sample:    s.Clone(),
			Timestamp: ts,
			Deduced:   deduced,
		},
		pushthrough: pushthrough,
	}
	for c := range o.consumers {
		if c.q.Push(it) {
			o.e.metrics.SamplesDropped.WithLabelValues("outlet").Inc()
		}
	}
	return nil
}

func (o *outlet) HaveConsumers() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.consumers) > 0
}

func (o *outlet) WaitForConsumers(ctx context.Context) bool {
	for {
		o.mu.Lock()
		if len(o.consumers) > 0 {
			o.mu.Unlock()
			return true
		}
		ch := o.haveConsumers
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-ch:
		}
	}
}

// addConsumer registers a consumer with a buffer of at most requested samples.
// It returns nil if the outlet is closed.
func (o *outlet) addConsumer(requested int) *consumer {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}

	capacity := o.capacity
	if requested > 0 {
		capacity = min(capacity, requested)
	}
	c := &consumer{q: lqueue.New[item](capacity)}

	o.consumers[c] = struct{}{}
	if len(o.consumers) == 1 {
		close(o.haveConsumers)
	}
	o.e.metrics.Consumers.Inc()
	return c
}

func (o *outlet) removeConsumer(c *consumer) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.consumers[c]; !ok {
		return
	}
	delete(o.consumers, c)
	if len(o.consumers) == 0 {
		o.haveConsumers = make(chan struct{})
	}
	o.e.metrics.Consumers.Dec()
}

func (o *outlet) Close() error {
	o.e.removeOutlet(o.info.UID)
	o.shutdown()
	return nil
}

// shutdown closes every consumer queue,
// which ends the consumers' feeds once their buffers are written.
func (o *outlet) shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	for c := range o.consumers {
		c.q.Close(errOutletClosed)
	}
	o.e.log.Info("Closed outlet", "uid", o.info.UID)
}

// consumer is one inlet's subscription to an outlet.
type consumer struct {
	q *lqueue.Queue[item]
}
