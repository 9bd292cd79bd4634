// Package lclock provides the local clock that all stream timestamps are measured in.
//
// The clock is monotonic and shared by every process on the machine,
// so timestamps taken by an outlet and an inlet on the same host are directly comparable.
// It has no relation to wall-clock time.
package lclock

// Now returns the current local clock reading in seconds.
func Now() float64 {
	return now()
}
