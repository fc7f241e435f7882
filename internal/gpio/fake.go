package gpio

import (
	"fmt"
	"sync"
)

// FakeBank is a test double that records line requests and lets tests fire
// edges and set levels.
type FakeBank struct {
	mu       sync.Mutex
	handlers map[int]func()
	levels   map[int]*FakeLevel
	configs  map[int]LineConfig

	// RequestError, if set, is returned by WatchEdges and Input.
	RequestError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeBank creates an empty FakeBank.
func NewFakeBank() *FakeBank {
	return &FakeBank{
		handlers: make(map[int]func()),
		levels:   make(map[int]*FakeLevel),
		configs:  make(map[int]LineConfig),
	}
}

func (f *FakeBank) claim(pin int, cfg LineConfig) error {
	if f.RequestError != nil {
		return f.RequestError
	}
	if _, ok := f.configs[pin]; ok {
		return fmt.Errorf("request pin %d: %w", pin, ErrPinClaimed)
	}
	f.configs[pin] = cfg
	return nil
}

// WatchEdges records the handler for pin.
func (f *FakeBank) WatchEdges(pin int, cfg LineConfig, onEdge func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.claim(pin, cfg); err != nil {
		return err
	}
	f.handlers[pin] = onEdge
	return nil
}

// Input returns a FakeLevel for pin, initially low.
func (f *FakeBank) Input(pin int, cfg LineConfig) (Level, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.claim(pin, cfg); err != nil {
		return nil, err
	}
	l := &FakeLevel{}
	f.levels[pin] = l
	return l, nil
}

// Fire delivers n rising edges on pin. It returns false if nothing watches
// the pin.
func (f *FakeBank) Fire(pin, n int) bool {
	f.mu.Lock()
	h := f.handlers[pin]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	for i := 0; i < n; i++ {
		h()
	}
	return true
}

// Line returns the FakeLevel requested for pin, or nil.
func (f *FakeBank) Line(pin int) *FakeLevel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

// Config returns the configuration pin was requested with.
func (f *FakeBank) Config(pin int) (LineConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[pin]
	return cfg, ok
}

// Close marks the bank as closed.
func (f *FakeBank) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// FakeLevel is a settable input line.
type FakeLevel struct {
	mu    sync.Mutex
	level int

	// ReadError, if set, will be returned by Value().
	ReadError error
}

// Set changes the line level.
func (l *FakeLevel) Set(level int) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// SetError makes subsequent reads fail with err (nil clears it).
func (l *FakeLevel) SetError(err error) {
	l.mu.Lock()
	l.ReadError = err
	l.mu.Unlock()
}

// Value returns the current level.
func (l *FakeLevel) Value() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ReadError != nil {
		return 0, l.ReadError
	}
	return l.level, nil
}
