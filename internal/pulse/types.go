// Package pulse turns hardware edge events into rates and totals.
//
// Edges are counted by an Accumulator from whatever goroutine delivers them
// (the gpiocdev event watcher in production). Estimators drain the
// accumulator on demand and convert the window into a rate. Draining is the
// only point where the edge producer and the reader meet, and it is a single
// atomic swap, so producers never block.
//
// This package has no GPIO, MQTT or OS dependencies. Time is injectable.
package pulse

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrZeroWindow is reported when pulses were drained from a window with no
// measurable duration (frozen or non-monotonic clock).
var ErrZeroWindow = errors.New("pulse: window has no elapsed time")

// Direction is the rotation sense reported by a DirectionSensor.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "REVERSE"
	}
	return "FORWARD"
}

// Status tells the consumer whether a sample is a real measurement.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
)

// Window is the result of one drain: the pulses counted since the previous
// drain and the wall time the window covered.
type Window struct {
	Count   uint64
	Start   time.Time
	End     time.Time
	Elapsed time.Duration
}

// RateSample is one estimator reading. It is a value; the estimator keeps
// no reference to it.
type RateSample struct {
	Time          time.Time
	RatePerMinute float64
	Direction     Direction
	// Pulses drained in this window.
	Pulses         uint64
	ElapsedSeconds float64
	// CumulativeCount is every pulse drained since start. Never reset.
	CumulativeCount uint64
	Status          Status
	// Err is the fault absorbed when Status is StatusDegraded.
	Err error
}

// Degraded reports whether the sample is a best-effort zero.
func (s RateSample) Degraded() bool {
	return s.Status == StatusDegraded
}

// FlowSample is a RateSample from a FlowIntegrator with the running volume.
type FlowSample struct {
	RateSample
	TotalVolume decimal.Decimal
}
