// Package lengine declares the boundary between the typed stream API
// and the engine that moves samples over the network.
//
// The root lsl package only talks to an engine through these interfaces.
// Package lnet contains the networked implementation,
// and package lsltest contains an in-memory one for tests.
package lengine

import (
	"context"
	"time"

	"github.com/gordian-engine/lsl/lformat"
	"github.com/gordian-engine/lsl/linfo"
	"github.com/gordian-engine/lsl/lpost"
)

// Engine creates the endpoints of the stream layer.
type Engine interface {
	// NewOutlet makes the stream described by info discoverable.
	// The engine assigns the hosting fields on its own copy of info.
	NewOutlet(info *linfo.Info, chunkSize, maxBuffered int) (Outlet, error)

	// NewInlet creates a subscriber to the stream described by info,
	// which must have been obtained by resolution.
	// The connection is established lazily.
	NewInlet(info *linfo.Info, maxBuflen, maxChunklen int, recover bool) (Inlet, error)

	// Resolve waits until at least minimum distinct streams matching q
	// are found or ctx is done, whichever comes first.
	// Context expiry is not an error.
	Resolve(ctx context.Context, q *linfo.Query, minimum int) ([]*linfo.Info, error)

	// NewResolver starts a background resolution of streams matching q.
	NewResolver(q *linfo.Query, forgetAfter time.Duration) (Resolver, error)

	// LocalClock returns the engine's clock in seconds.
	LocalClock() float64
}

// Outlet is a hosted stream.
type Outlet interface {
	// Info returns a copy of the hosted stream declaration,
	// including the hosting fields.
	Info() *linfo.Info

	// PushSample enqueues one sample.
	// A ts of DeducedTimestamp (-1) means the timestamp follows
	// from the previous sample and the nominal rate.
	// The engine does not retain s.
	PushSample(s *lformat.Sample, ts float64, pushthrough bool) error

	HaveConsumers() bool

	// WaitForConsumers reports whether a consumer connected before ctx finished.
	WaitForConsumers(ctx context.Context) bool

	// Close makes the stream undiscoverable and disconnects all consumers.
	Close() error
}

// Inlet is a subscription to one stream.
type Inlet interface {
	// FullInfo retrieves the stream declaration including its description.
	FullInfo(ctx context.Context) (*linfo.Info, error)

	// OpenStream subscribes to the stream's data.
	// Pulling also opens the stream implicitly.
	OpenStream(ctx context.Context) error

	// CloseStream drops the subscription; buffered samples are discarded.
	CloseStream()

	// TimeCorrection returns the current estimate of the offset
	// between the remote clock and the local clock.
	TimeCorrection(ctx context.Context) (TimeCorrection, error)

	// SetPostprocessing replaces the post-processing flags.
	// It returns an error with code Argument for unknown flags.
	SetPostprocessing(f lpost.Flags) error

	// PullSample removes the next sample from the receive buffer
	// and returns it with its post-processed timestamp.
	// The caller owns the returned sample.
	// If ctx finishes first, PullSample returns a nil sample, 0 and a nil error.
	PullSample(ctx context.Context) (*lformat.Sample, float64, error)

	SamplesAvailable() int

	// WasClockReset reports whether the remote clock was reset
	// since the previous call.
	WasClockReset() bool

	SmoothingHalftime(seconds float32)

	Close() error
}

// Resolver is a background resolution.
type Resolver interface {
	// Results returns the streams currently known to match,
	// without blocking.
	Results() []*linfo.Info

	Close() error
}

// TimeCorrection is one estimate of the remote clock offset.
type TimeCorrection struct {
	// Offset is added to a remote timestamp to obtain local time.
	Offset float64

	// RemoteTime is the remote clock reading at which Offset was measured.
	RemoteTime float64

	// Uncertainty is the round trip time of the measurement,
	// bounding the error of Offset.
	Uncertainty float64
}
