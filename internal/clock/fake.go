package clock

import (
	"sync"
	"time"
)

// NewFake returns a Fake clock pinned to initial. Time moves only when
// Advance is called; pending waiters whose deadline is reached fire in
// deadline order.
func NewFake(initial time.Time) *Fake {
	return &Fake{current: initial}
}

// Fake is a deterministic Clock for tests. Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time // nil for AfterFunc waiters
	fn       func()         // nil for After/Ticker waiters
	interval time.Duration  // non-zero for tickers
	stopped  bool
	fired    bool
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{deadline: f.current.Add(d), ch: make(chan time.Time, 1)}
	f.waiters = append(f.waiters, w)
	return w.ch
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) *Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{deadline: f.current.Add(d), fn: fn}
	f.waiters = append(f.waiters, w)
	return &Timer{stop: func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if w.fired || w.stopped {
			return false
		}
		w.stopped = true
		return true
	}}
}

func (f *Fake) NewTicker(d time.Duration) *Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{deadline: f.current.Add(d), ch: make(chan time.Time, 1), interval: d}
	f.waiters = append(f.waiters, w)
	return &Ticker{C: w.ch, stop: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.stopped = true
	}}
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline has been reached. AfterFunc callbacks run in their own
// goroutines, matching the real clock's behavior.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	now := f.current

	var callbacks []func()
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if w.stopped {
			continue
		}
		if w.deadline.After(now) {
			remaining = append(remaining, w)
			continue
		}
		switch {
		case w.interval > 0:
			select {
			case w.ch <- w.deadline:
			default:
			}
			w.deadline = w.deadline.Add(w.interval)
			remaining = append(remaining, w)
		case w.fn != nil:
			if !w.fired {
				w.fired = true
				callbacks = append(callbacks, w.fn)
			}
		default:
			if !w.fired {
				w.fired = true
				w.ch <- w.deadline
			}
		}
	}
	f.waiters = remaining
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, fn := range callbacks {
		wg.Add(1)
		go func(fn func()) {
			defer wg.Done()
			fn()
		}(fn)
	}
	wg.Wait()
}
