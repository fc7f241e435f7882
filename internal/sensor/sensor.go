// Package sensor binds the drum and flow estimators to their GPIO lines and
// exposes the readings consumed by the MQTT and HTTP layers.
package sensor

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sweeney/pulse-sensor/internal/config"
	"github.com/sweeney/pulse-sensor/internal/gpio"
	"github.com/sweeney/pulse-sensor/internal/metrics"
	"github.com/sweeney/pulse-sensor/internal/pulse"
)

// Recorder receives every read. *metrics.Recorder implements it.
type Recorder interface {
	ObserveRead(sensor string, pulses uint64, ratePerMinute float64, degraded bool)
	SetTotals(revolutions uint64, volume float64)
}

// Options carries the collaborators of Sensors.
type Options struct {
	Now      func() time.Time
	Logger   zerolog.Logger
	Recorder Recorder
}

// Reading is a snapshot of both sensors taken by one Read call.
type Reading struct {
	Time time.Time

	// RPM is the rounded signed drum rate (negative = reverse).
	RPM            int64
	RatePerMinute  float64
	Direction      pulse.Direction
	Revolutions    uint64
	RotationStatus pulse.Status

	// FlowRate is in Unit per minute.
	FlowRate    float64
	TotalVolume decimal.Decimal
	// Volume is TotalVolume rounded to a whole Unit.
	Volume     uint64
	Unit       string
	FlowStatus pulse.Status
}

// Degraded reports whether either half of the reading is a fallback zero.
func (r Reading) Degraded() bool {
	return r.RotationStatus == pulse.StatusDegraded || r.FlowStatus == pulse.StatusDegraded
}

// Sensors owns the rotation estimator and the flow integrator.
// All read methods are safe for concurrent use.
type Sensors struct {
	rotation *pulse.RotationEstimator
	flow     *pulse.FlowIntegrator
	unit     string
	rec      Recorder
	log      zerolog.Logger
}

// New requests the direction, drum and flow lines from bank and builds the
// estimators. On error the caller still owns bank and must close it.
func New(cfg config.Sensors, bank gpio.Bank, opts Options) (*Sensors, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	log := opts.Logger

	hall, err := bank.Input(cfg.Hall.Pin, gpio.LineConfig{
		Pull:     gpio.Pull(cfg.Hall.Pull),
		Debounce: cfg.Hall.Debounce,
	})
	if err != nil {
		return nil, fmt.Errorf("init direction sensor: %w", err)
	}

	rotation := pulse.NewRotationEstimator(
		pulse.NewLevelDirection(hall, cfg.Hall.ReverseLevel),
		pulse.RotationOptions{
			PulsesPerRevolution: cfg.RPM.PulsesPerRevolution,
			Now:                 opts.Now,
			Logger:              log.With().Str("sensor", metrics.SensorRotation).Logger(),
		},
	)
	if err := bank.WatchEdges(cfg.RPM.Pin, gpio.LineConfig{
		Pull:     gpio.Pull(cfg.RPM.Pull),
		Debounce: cfg.RPM.Debounce,
	}, rotation.Accumulator().OnEdge); err != nil {
		return nil, fmt.Errorf("init rpm sensor: %w", err)
	}

	flow := pulse.NewFlowIntegrator(pulse.FlowOptions{
		PulsesPerUnit:  cfg.Water.PulsesPerUnit,
		UnitConversion: cfg.Water.UnitConversion,
		MaxRate:        cfg.Water.MaxRate,
		Now:            opts.Now,
		Logger:         log.With().Str("sensor", metrics.SensorFlow).Logger(),
	})
	if err := bank.WatchEdges(cfg.Water.Pin, gpio.LineConfig{
		Pull:     gpio.Pull(cfg.Water.Pull),
		Debounce: cfg.Water.Debounce,
	}, flow.Accumulator().OnEdge); err != nil {
		return nil, fmt.Errorf("init flow sensor: %w", err)
	}

	log.Info().
		Int("rpm_pin", cfg.RPM.Pin).
		Int("direction_pin", cfg.Hall.Pin).
		Int("flow_pin", cfg.Water.Pin).
		Msg("sensors bound")

	return &Sensors{
		rotation: rotation,
		flow:     flow,
		unit:     cfg.Water.Unit,
		rec:      opts.Recorder,
		log:      log,
	}, nil
}

// ReadRotationalRate drains the drum window and returns the rounded signed
// rpm and the drum revolutions since start.
func (s *Sensors) ReadRotationalRate() (int64, uint64) {
	rs := s.readRotation()
	return int64(math.Round(rs.RatePerMinute)), s.rotation.Revolutions(rs.CumulativeCount)
}

// ReadFlowRate drains the flow window and returns the total volume rounded
// to a whole unit.
func (s *Sensors) ReadFlowRate() uint64 {
	return pulse.RoundVolume(s.readFlow().TotalVolume)
}

// Read drains both windows and returns the combined reading.
func (s *Sensors) Read() Reading {
	rs := s.readRotation()
	fs := s.readFlow()

	t := rs.Time
	if fs.Time.After(t) {
		t = fs.Time
	}
	return Reading{
		Time:           t,
		RPM:            int64(math.Round(rs.RatePerMinute)),
		RatePerMinute:  rs.RatePerMinute,
		Direction:      rs.Direction,
		Revolutions:    s.rotation.Revolutions(rs.CumulativeCount),
		RotationStatus: rs.Status,
		FlowRate:       fs.RatePerMinute,
		TotalVolume:    fs.TotalVolume,
		Volume:         pulse.RoundVolume(fs.TotalVolume),
		Unit:           s.unit,
		FlowStatus:     fs.Status,
	}
}

func (s *Sensors) readRotation() pulse.RateSample {
	rs := s.rotation.ReadRate()
	s.rec.ObserveRead(metrics.SensorRotation, rs.Pulses, rs.RatePerMinute, rs.Degraded())
	s.recordTotals()
	return rs
}

func (s *Sensors) readFlow() pulse.FlowSample {
	fs := s.flow.ReadRate()
	s.rec.ObserveRead(metrics.SensorFlow, fs.Pulses, fs.RatePerMinute, fs.Degraded())
	s.recordTotals()
	return fs
}

func (s *Sensors) recordTotals() {
	vol, _ := s.flow.TotalVolume().Float64()
	s.rec.SetTotals(s.rotation.CumulativeRevolutions(), vol)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRead(string, uint64, float64, bool) {}
func (nopRecorder) SetTotals(uint64, float64)                 {}
