//go:build !unix

package lclock

import "time"

// Without a shared monotonic clock source,
// fall back to the process-local monotonic reading offset by the start time,
// which keeps readings comparable across processes to wall-clock precision.
var (
	start     = time.Now()
	startUnix = float64(start.UnixNano()) * 1e-9
)

func now() float64 {
	return startUnix + time.Since(start).Seconds()
}
