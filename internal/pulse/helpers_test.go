package pulse

import (
	"errors"
	"sync"
	"time"
)

// manualClock is advanced explicitly by tests.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptedDirection returns Dir, or Err when set.
type scriptedDirection struct {
	Dir   Direction
	Err   error
	Calls int
}

func (s *scriptedDirection) Sample() (Direction, error) {
	s.Calls++
	if s.Err != nil {
		return Forward, s.Err
	}
	return s.Dir, nil
}

type panickingDirection struct{}

func (panickingDirection) Sample() (Direction, error) {
	panic("line closed")
}

// levelLine is a LevelReader with a settable level.
type levelLine struct {
	level int
	err   error
}

func (l *levelLine) Value() (int, error) {
	return l.level, l.err
}

var errRead = errors.New("simulated read failure")

func edges(acc *Accumulator, n int) {
	for i := 0; i < n; i++ {
		acc.OnEdge()
	}
}
