package pulse

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// FlowOptions configures a FlowIntegrator.
type FlowOptions struct {
	// PulsesPerUnit is the meter constant, e.g. 100 pulses per gallon.
	PulsesPerUnit float64
	// UnitConversion scales meter units into reported units, e.g. 3.785
	// litres per gallon. Defaults to 1.
	UnitConversion float64
	// MaxRate, when positive, logs a warning for rates above it
	// (reported units per minute).
	MaxRate float64
	Now     func() time.Time
	Logger  zerolog.Logger
}

// FlowIntegrator turns flow meter pulses into a rate and a running volume.
type FlowIntegrator struct {
	acc  *Accumulator
	now  func() time.Time
	log  zerolog.Logger
	ppu  float64
	conv float64
	max  float64

	ppuDec  decimal.Decimal
	convDec decimal.Decimal

	cumulative atomic.Uint64
}

// NewFlowIntegrator creates an integrator with its own accumulator.
func NewFlowIntegrator(opts FlowOptions) *FlowIntegrator {
	if opts.PulsesPerUnit <= 0 {
		opts.PulsesPerUnit = 1
	}
	if opts.UnitConversion <= 0 {
		opts.UnitConversion = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &FlowIntegrator{
		acc:     NewAccumulator(opts.Now),
		now:     opts.Now,
		log:     opts.Logger,
		ppu:     opts.PulsesPerUnit,
		conv:    opts.UnitConversion,
		max:     opts.MaxRate,
		ppuDec:  decimal.NewFromFloat(opts.PulsesPerUnit),
		convDec: decimal.NewFromFloat(opts.UnitConversion),
	}
}

// Accumulator returns the accumulator fed by the meter line.
func (f *FlowIntegrator) Accumulator() *Accumulator {
	return f.acc
}

// ReadRate drains the window, folds it into the running total and returns
// both the instantaneous rate and the total volume.
func (f *FlowIntegrator) ReadRate() FlowSample {
	w := f.acc.Drain()
	total := f.cumulative.Add(w.Count)

	s := FlowSample{
		RateSample: RateSample{
			Time:            w.End,
			Direction:       Forward,
			Pulses:          w.Count,
			ElapsedSeconds:  w.Elapsed.Seconds(),
			CumulativeCount: total,
			Status:          StatusOK,
		},
		TotalVolume: f.Volume(total),
	}

	rate, err := perMinute(w, f.ppu)
	if err != nil {
		f.log.Warn().Err(err).Uint64("pulses", w.Count).Dur("elapsed", w.Elapsed).
			Msg("flow: cannot rate window, reporting zero")
		s.Status = StatusDegraded
		s.Err = err
	}
	s.RatePerMinute = rate * f.conv

	if f.max > 0 && s.RatePerMinute > f.max {
		f.log.Warn().Float64("rate", s.RatePerMinute).Float64("max", f.max).
			Msg("flow: rate exceeds meter maximum")
	}
	return s
}

// ReadFlowRate drains the window and returns the total volume rounded to
// the nearest whole unit.
func (f *FlowIntegrator) ReadFlowRate() uint64 {
	return RoundVolume(f.ReadRate().TotalVolume)
}

// TotalVolume returns the volume drained so far without closing a window.
func (f *FlowIntegrator) TotalVolume() decimal.Decimal {
	return f.Volume(f.cumulative.Load())
}

// Volume converts a pulse count into reported units.
func (f *FlowIntegrator) Volume(pulses uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(pulses)).Div(f.ppuDec).Mul(f.convDec)
}

// RoundVolume rounds half away from zero to a whole unit.
func RoundVolume(v decimal.Decimal) uint64 {
	if v.IsNegative() {
		return 0
	}
	return uint64(v.Round(0).IntPart())
}
