package lengine

import (
	"errors"
	"fmt"
)

// ErrorCode is the failure classification reported by an engine.
// The values are shared with other implementations of the stream layer.
type ErrorCode int32

const (
	Timeout  ErrorCode = -1
	Lost     ErrorCode = -2
	Argument ErrorCode = -3
	Internal ErrorCode = -4
)

func (c ErrorCode) String() string {
	switch c {
	case Timeout:
		return "timeout"
	case Lost:
		return "lost"
	case Argument:
		return "argument"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int32(c))
	}
}

// Error is an engine failure carrying an [ErrorCode].
type Error struct {
	Code ErrorCode
	Err  error
}

// Errorf returns an *Error with the given code and a formatted cause.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain,
// and whether there was one.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
