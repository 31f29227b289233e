// Package clock abstracts time operations so freshness checks, invite
// timeouts and discovery windows can be driven deterministically in tests.
// Production code injects Real(); tests inject NewFake().
package clock

import "time"

type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for d, then calls f in its own goroutine. The
	// returned Timer can cancel the pending call with Stop.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks on C every d.
	NewTicker(d time.Duration) *Ticker
}

// Timer represents a scheduled AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop cancels the pending call. Returns false if it already fired.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker wraps a periodic timer. Call Stop to release it.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
