package pulse

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accumulator counts edges between drains.
//
// OnEdge is safe to call from any goroutine at any rate. Drain may be called
// concurrently by several readers; drains are serialised so that windows are
// handed out in order and never overlap.
type Accumulator struct {
	count atomic.Uint64

	mu        sync.Mutex // serialises drains, never taken by OnEdge
	now       func() time.Time
	lastDrain time.Time
}

// NewAccumulator creates an accumulator whose first window starts now.
// A nil clock means time.Now.
func NewAccumulator(now func() time.Time) *Accumulator {
	if now == nil {
		now = time.Now
	}
	return &Accumulator{
		now:       now,
		lastDrain: now(),
	}
}

// OnEdge records one edge.
func (a *Accumulator) OnEdge() {
	a.count.Add(1)
}

// Pending returns the number of edges counted since the last drain without
// draining them.
func (a *Accumulator) Pending() uint64 {
	return a.count.Load()
}

// Drain reads and resets the count and closes the current window.
// An edge racing with the swap lands either in this window or the next,
// never both.
func (a *Accumulator) Drain() Window {
	a.mu.Lock()
	defer a.mu.Unlock()

	end := a.now()
	n := a.count.Swap(0)

	w := Window{
		Count:   n,
		Start:   a.lastDrain,
		End:     end,
		Elapsed: end.Sub(a.lastDrain),
	}
	a.lastDrain = end
	return w
}

// perMinute converts a window into a rate per minute of whole units, where
// pulsesPerUnit pulses make one unit.
func perMinute(w Window, pulsesPerUnit float64) (float64, error) {
	if w.Elapsed <= 0 {
		if w.Count > 0 {
			return 0, ErrZeroWindow
		}
		return 0, nil
	}
	return float64(w.Count) / pulsesPerUnit / w.Elapsed.Seconds() * 60, nil
}
