package lsl

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/lsl/lengine"
)

// The closed set of failures reported by this package.
// Returned errors wrap one of these; match them with [errors.Is].
var (
	ErrBadArgument      = errors.New("incorrectly specified argument")
	ErrTimeout          = errors.New("operation timed out")
	ErrStreamLost       = errors.New("stream has been lost")
	ErrResourceCreation = errors.New("resource creation failed")
	ErrInternal         = errors.New("internal error in stream engine")
	ErrUnknown          = errors.New("unknown error")
)

// engineError classifies a failure reported by an engine.
func engineError(op string, err error) error {
	if err == nil {
		return nil
	}

	code, ok := lengine.CodeOf(err)
	if !ok {
		return fmt.Errorf("%s: %w: %w", op, ErrUnknown, err)
	}

	var sentinel error
	switch code {
	case lengine.Timeout:
		sentinel = ErrTimeout
	case lengine.Lost:
		sentinel = ErrStreamLost
	case lengine.Argument:
		sentinel = ErrBadArgument
	case lengine.Internal:
		sentinel = ErrInternal
	default:
		sentinel = ErrUnknown
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel, err)
}

// creationError classifies a failure to create an endpoint.
// Failures without a code are resource failures.
func creationError(op string, err error) error {
	if _, ok := lengine.CodeOf(err); !ok {
		return fmt.Errorf("%s: %w: %w", op, ErrResourceCreation, err)
	}
	return engineError(op, err)
}

func badArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadArgument, fmt.Sprintf(format, args...))
}
