package lsl

import (
	"fmt"
	"time"

	"github.com/gordian-engine/lsl/lengine"
	"github.com/gordian-engine/lsl/linfo"
)

// ResolveStreams returns every stream visible on the network within waitTime.
//
// The returned declarations have no description;
// use [StreamInlet.Info] to retrieve it.
func ResolveStreams(e lengine.Engine, waitTime time.Duration) ([]*StreamInfo, error) {
	return resolve(e, "", 0, waitTime)
}

// ResolveByProp returns the streams whose property prop equals value,
// such as ResolveByProp(e, "type", "EEG", 1, time.Second).
//
// It returns as soon as minimum streams were found,
// or when waitTime expires with however many were found.
// An expired waitTime is not an error.
func ResolveByProp(e lengine.Engine, prop, value string, minimum int, waitTime time.Duration) ([]*StreamInfo, error) {
	if hasNUL(prop) || hasNUL(value) {
		return nil, badArgument("property and value must not contain NUL bytes")
	}
	return resolve(e, linfo.PropQuery(prop, value), minimum, waitTime)
}

// ResolveByPred returns the streams matching an XPath 1.0 predicate
// over the stream declaration, such as
//
//	type='EEG' and starts-with(name,'BioSemi') and count(desc/channels/channel)=32
//
// It returns as soon as minimum streams were found,
// or when waitTime expires with however many were found.
func ResolveByPred(e lengine.Engine, pred string, minimum int, waitTime time.Duration) ([]*StreamInfo, error) {
	return resolve(e, pred, minimum, waitTime)
}

func compileQuery(pred string) (*linfo.Query, error) {
	if hasNUL(pred) {
		return nil, badArgument("predicate must not contain NUL bytes")
	}
	q, err := linfo.CompileQuery(pred)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArgument, err)
	}
	return q, nil
}

func resolve(e lengine.Engine, pred string, minimum int, waitTime time.Duration) ([]*StreamInfo, error) {
	if minimum < 0 {
		return nil, badArgument("minimum %d must not be negative", minimum)
	}
	q, err := compileQuery(pred)
	if err != nil {
		return nil, err
	}

	ctx, cancel := timeoutContext(waitTime)
	defer cancel()

	found, err := e.Resolve(ctx, q, minimum)
	if err != nil {
		return nil, engineError("resolve", err)
	}
	return wrapInfos(found), nil
}

func wrapInfos(infos []*linfo.Info) []*StreamInfo {
	out := make([]*StreamInfo, len(infos))
	for i, info := range infos {
		out[i] = &StreamInfo{info: info}
	}
	return out
}

// ContinuousResolver keeps resolving streams in the background.
// Its results can be read at any time without blocking.
type ContinuousResolver struct {
	r lengine.Resolver
}

// NewContinuousResolver resolves every stream on the network.
// Streams not seen for forgetAfter are dropped from the results;
// five seconds is a good choice.
func NewContinuousResolver(e lengine.Engine, forgetAfter time.Duration) (*ContinuousResolver, error) {
	return newContinuousResolver(e, "", forgetAfter)
}

// NewContinuousResolverByProp resolves the streams whose property prop equals value.
func NewContinuousResolverByProp(e lengine.Engine, prop, value string, forgetAfter time.Duration) (*ContinuousResolver, error) {
	if hasNUL(prop) || hasNUL(value) {
		return nil, badArgument("property and value must not contain NUL bytes")
	}
	return newContinuousResolver(e, linfo.PropQuery(prop, value), forgetAfter)
}

// NewContinuousResolverByPred resolves the streams matching an XPath 1.0 predicate.
func NewContinuousResolverByPred(e lengine.Engine, pred string, forgetAfter time.Duration) (*ContinuousResolver, error) {
	return newContinuousResolver(e, pred, forgetAfter)
}

func newContinuousResolver(e lengine.Engine, pred string, forgetAfter time.Duration) (*ContinuousResolver, error) {
	if forgetAfter <= 0 {
		return nil, badArgument("forget-after duration %s must be positive", forgetAfter)
	}
	q, err := compileQuery(pred)
	if err != nil {
		return nil, err
	}

	r, err := e.NewResolver(q, forgetAfter)
	if err != nil {
		return nil, creationError("create resolver", err)
	}
	return &ContinuousResolver{r: r}, nil
}

// Results returns the streams currently visible.
// The declarations have no description.
func (c *ContinuousResolver) Results() []*StreamInfo {
	return wrapInfos(c.r.Results())
}

// Close stops resolving.
func (c *ContinuousResolver) Close() error {
	return engineError("close resolver", c.r.Close())
}
