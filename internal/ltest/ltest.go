// Package ltest contains helpers shared by the module's tests.
package ltest

import (
	"log/slog"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

// ScaleDuration is how long the channel helpers wait
// before declaring that something did not happen.
const ScaleDuration = 2 * time.Second

// NewLogger returns a logger writing through t.Log.
func NewLogger(t *testing.T) *slog.Logger {
	return slogt.New(t, slogt.Text())
}

// ReceiveSoon receives a value from ch,
// failing the test if no value arrives within ScaleDuration.
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(ScaleDuration):
		t.Fatalf("no value received within %s", ScaleDuration)
		var zero T
		return zero
	}
}

// SendSoon sends v on ch,
// failing the test if the send does not complete within ScaleDuration.
func SendSoon[T any](t *testing.T, ch chan<- T, v T) {
	t.Helper()

	select {
	case ch <- v:
	case <-time.After(ScaleDuration):
		t.Fatalf("value not sent within %s", ScaleDuration)
	}
}

// IsSending asserts that ch is ready to receive from,
// for example because it was closed.
func IsSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(ScaleDuration):
		t.Fatalf("channel not ready within %s", ScaleDuration)
	}
}

// NotSending asserts that ch does not become ready
// within a short interval.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("channel unexpectedly ready")
	case <-time.After(20 * time.Millisecond):
	}
}

// Eventually polls cond until it returns true,
// failing the test if it does not within ScaleDuration.
func Eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()

	deadline := time.Now().Add(ScaleDuration)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(append([]any{"condition not met within", ScaleDuration}, msgAndArgs...)...)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
