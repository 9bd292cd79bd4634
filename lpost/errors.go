package lpost

import "fmt"

// InvalidFlagsError is the panic value of [Postprocessor.SetFlags]
// when given flags outside [All].
type InvalidFlagsError struct {
	Flags Flags
}

func (e *InvalidFlagsError) Error() string {
	return fmt.Sprintf("invalid post-processing flags %#x", uint32(e.Flags))
}
