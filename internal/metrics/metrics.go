// Package metrics exports sensor readings as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sensor label values.
const (
	SensorRotation = "rotation"
	SensorFlow     = "flow"
)

// Recorder records sensor reads on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	pulses      *prometheus.CounterVec
	rate        *prometheus.GaugeVec
	degraded    *prometheus.CounterVec
	revolutions prometheus.Gauge
	volume      prometheus.Gauge
	published   *prometheus.CounterVec
}

// New creates a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: reg,
		pulses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_sensor_pulses_total",
				Help: "Pulses drained from each sensor",
			},
			[]string{"sensor"},
		),
		rate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulse_sensor_rate_per_minute",
				Help: "Last rate read from each sensor (rev/min signed, or volume units/min)",
			},
			[]string{"sensor"},
		),
		degraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_sensor_degraded_reads_total",
				Help: "Reads that fell back to a zero rate",
			},
			[]string{"sensor"},
		),
		revolutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_sensor_drum_revolutions",
			Help: "Drum revolutions since start",
		}),
		volume: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_sensor_total_volume",
			Help: "Volume measured since start",
		}),
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_sensor_mqtt_messages_total",
				Help: "MQTT publish attempts by result",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(r.pulses, r.rate, r.degraded, r.revolutions, r.volume, r.published)
	return r
}

// ObserveRead records one estimator read.
func (r *Recorder) ObserveRead(sensor string, pulses uint64, ratePerMinute float64, degraded bool) {
	r.pulses.WithLabelValues(sensor).Add(float64(pulses))
	r.rate.WithLabelValues(sensor).Set(ratePerMinute)
	if degraded {
		r.degraded.WithLabelValues(sensor).Inc()
	}
}

// SetTotals records the running drum and volume totals.
func (r *Recorder) SetTotals(revolutions uint64, volume float64) {
	r.revolutions.Set(float64(revolutions))
	r.volume.Set(volume)
}

// ObservePublish records the outcome of an MQTT publish.
func (r *Recorder) ObservePublish(err error) {
	if err != nil {
		r.published.WithLabelValues("error").Inc()
		return
	}
	r.published.WithLabelValues("ok").Inc()
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
