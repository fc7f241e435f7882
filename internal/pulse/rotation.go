package pulse

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// RotationOptions configures a RotationEstimator.
type RotationOptions struct {
	// PulsesPerRevolution defaults to 1.
	PulsesPerRevolution uint64
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger zerolog.Logger
}

// RotationEstimator turns drum pulses into signed revolutions per minute.
type RotationEstimator struct {
	acc          *Accumulator
	dir          DirectionSensor
	now          func() time.Time
	pulsesPerRev uint64
	log          zerolog.Logger

	cumulative atomic.Uint64
}

// NewRotationEstimator creates an estimator with its own accumulator.
// Bind the accumulator's OnEdge to the pulse line.
func NewRotationEstimator(dir DirectionSensor, opts RotationOptions) *RotationEstimator {
	if opts.PulsesPerRevolution == 0 {
		opts.PulsesPerRevolution = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RotationEstimator{
		acc:          NewAccumulator(opts.Now),
		dir:          dir,
		now:          opts.Now,
		pulsesPerRev: opts.PulsesPerRevolution,
		log:          opts.Logger,
	}
}

// Accumulator returns the accumulator fed by the pulse line.
func (e *RotationEstimator) Accumulator() *Accumulator {
	return e.acc
}

// ReadRate drains the window and returns the signed rate.
//
// The direction is sampled once at read time and applied to the whole
// window. A failed direction read leaves the window open, so its pulses are
// reported by the next successful read.
func (e *RotationEstimator) ReadRate() RateSample {
	dir, err := e.sampleDirection()
	if err != nil {
		e.log.Warn().Err(err).Msg("rotation: direction unavailable, reporting zero")
		return RateSample{
			Time:            e.now(),
			CumulativeCount: e.cumulative.Load(),
			Status:          StatusDegraded,
			Err:             err,
		}
	}

	w := e.acc.Drain()
	s := RateSample{
		Time:            w.End,
		Direction:       dir,
		Pulses:          w.Count,
		ElapsedSeconds:  w.Elapsed.Seconds(),
		CumulativeCount: e.cumulative.Add(w.Count),
		Status:          StatusOK,
	}

	rate, err := perMinute(w, float64(e.pulsesPerRev))
	if err != nil {
		e.log.Warn().Err(err).Uint64("pulses", w.Count).Dur("elapsed", w.Elapsed).
			Msg("rotation: cannot rate window, reporting zero")
		s.Status = StatusDegraded
		s.Err = err
	}
	if dir == Reverse && rate != 0 {
		rate = -rate
	}
	s.RatePerMinute = rate
	return s
}

// ReadRotationalRate returns the rounded signed rpm and the total drum
// revolutions since start.
func (e *RotationEstimator) ReadRotationalRate() (int64, uint64) {
	s := e.ReadRate()
	return int64(math.Round(s.RatePerMinute)), s.CumulativeCount / e.pulsesPerRev
}

// CumulativeRevolutions returns the revolutions drained so far without
// closing a window.
func (e *RotationEstimator) CumulativeRevolutions() uint64 {
	return e.cumulative.Load() / e.pulsesPerRev
}

// Revolutions converts a cumulative pulse count into whole revolutions.
func (e *RotationEstimator) Revolutions(pulses uint64) uint64 {
	return pulses / e.pulsesPerRev
}

func (e *RotationEstimator) sampleDirection() (dir Direction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("direction sensor panic: %v", r)
		}
	}()
	return e.dir.Sample()
}
