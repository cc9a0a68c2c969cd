// Package clock provides an injectable source of time so pool and
// deadline logic can be exercised deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is the subset of *time.Timer the pool needs: cancel a pending
// AfterFunc callback.
type Timer interface {
	Stop() bool
}

// Ticker is the subset of *time.Ticker the pool needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts time.Now, time.AfterFunc and time.NewTicker so tests
// can control elapsed-time decisions (pool staleness, keep-alive
// cadence, budget accounting) and drive keep-alive timers/tickers
// without sleeping.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

// Real returns a Clock backed by the system wall clock and real timers.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Frozen is a Clock that always reports t, with Advance to move it
// forward explicitly. Pending AfterFunc callbacks fire, and any due
// ticks are delivered, synchronously as part of Advance, so keep-alive
// cadence tests never sleep on a real timer.
type Frozen struct {
	mu      sync.Mutex
	t       time.Time
	timers  []*frozenTimer
	tickers []*frozenTicker
}

// NewFrozen returns a Clock fixed at t.
func NewFrozen(t time.Time) *Frozen {
	return &Frozen{t: t}
}

func (f *Frozen) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the frozen clock forward by d, firing any AfterFunc
// callbacks whose deadline is now due and delivering any ticks a
// ticker accumulated, oldest callback first.
func (f *Frozen) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	now := f.t
	timers := append([]*frozenTimer(nil), f.timers...)
	tickers := append([]*frozenTicker(nil), f.tickers...)
	f.mu.Unlock()

	for _, ft := range timers {
		if fn, ok := ft.fire(now); ok {
			fn()
		}
	}
	for _, tk := range tickers {
		tk.tick(now)
	}
}

func (f *Frozen) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft := &frozenTimer{deadline: f.t.Add(d), fn: fn}
	f.timers = append(f.timers, ft)
	return ft
}

func (f *Frozen) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	tk := &frozenTicker{ch: make(chan time.Time, 1), interval: d, next: f.t.Add(d)}
	f.tickers = append(f.tickers, tk)
	return tk
}

type frozenTimer struct {
	mu       sync.Mutex
	deadline time.Time
	fn       func()
	fired    bool
	stopped  bool
}

// fire reports whether now has reached the deadline and the timer
// hasn't already fired or been stopped, marking it fired if so.
func (ft *frozenTimer) fire(now time.Time) (func(), bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.fired || ft.stopped || now.Before(ft.deadline) {
		return nil, false
	}
	ft.fired = true
	return ft.fn, true
}

func (ft *frozenTimer) Stop() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	wasPending := !ft.fired && !ft.stopped
	ft.stopped = true
	return wasPending
}

type frozenTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (tk *frozenTicker) tick(now time.Time) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	for !tk.stopped && !now.Before(tk.next) {
		select {
		case tk.ch <- tk.next:
		default:
		}
		tk.next = tk.next.Add(tk.interval)
	}
}

func (tk *frozenTicker) C() <-chan time.Time { return tk.ch }

func (tk *frozenTicker) Stop() {
	tk.mu.Lock()
	tk.stopped = true
	tk.mu.Unlock()
}
