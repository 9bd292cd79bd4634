//go:build unix

package lclock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func now() float64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is mandatory on every supported unix.
		panic(fmt.Errorf("IMPOSSIBLE: clock_gettime(CLOCK_MONOTONIC) failed: %w", err))
	}
	return float64(ts.Sec) + float64(ts.Nsec)*1e-9
}
