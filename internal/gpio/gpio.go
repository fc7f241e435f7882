// Package gpio provides GPIO line requests with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"time"
)

// ErrPinClaimed is returned when a pin is requested a second time.
// Each physical pin belongs to exactly one logical sensor.
var ErrPinClaimed = errors.New("gpio: pin already claimed")

// Pull is the line bias.
type Pull string

const (
	PullDown Pull = "down"
	PullUp   Pull = "up"
	PullNone Pull = "none"
)

// LineConfig configures a requested input line.
type LineConfig struct {
	Pull Pull
	// Debounce suppresses transitions shorter than this. Zero disables it.
	Debounce time.Duration
}

// Level reads the current logic level of an input line.
type Level interface {
	Value() (int, error)
}

// Bank owns every line requested from one GPIO chip.
type Bank interface {
	// WatchEdges requests pin as an input and calls onEdge once per rising
	// edge. onEdge runs on the bank's event goroutine and must not block.
	WatchEdges(pin int, cfg LineConfig, onEdge func()) error

	// Input requests pin as a plain input.
	Input(pin int, cfg LineConfig) (Level, error)

	// Close releases every line and the chip.
	Close() error
}

var (
	_ Bank = (*RealBank)(nil)
	_ Bank = (*FakeBank)(nil)
)
