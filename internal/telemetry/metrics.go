// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

// Metrics holds the Prometheus view of the controller. It is a session sink.
type Metrics struct {
	TickDuration  prometheus.Histogram
	Phase         prometheus.Gauge
	Elapsed       prometheus.Gauge
	PressureFsw   prometheus.Gauge
	TargetFsw     prometheus.Gauge
	TrackingError prometheus.Gauge
	O2Percent     prometheus.Gauge
	Humidity      prometheus.Gauge
	Valve         *prometheus.GaugeVec
	AlarmsRaised  *prometheus.CounterVec
	IOFailures    *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent evaluating one control tick.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		Phase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_phase",
			Help:      "Session phase: 0 idle, 1 running, 2 paused, 3 finishing.",
		}),
		Elapsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_elapsed_seconds",
			Help:      "Seconds since the session started.",
		}),
		PressureFsw: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pressure_fsw",
			Help:      "Measured chamber pressure.",
		}),
		TargetFsw: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_fsw",
			Help:      "Profile setpoint.",
		}),
		TrackingError: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracking_error_fsw",
			Help:      "Setpoint minus measured pressure.",
		}),
		O2Percent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "o2_percent",
			Help:      "Chamber oxygen concentration.",
		}),
		Humidity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "humidity_percent",
			Help:      "Chamber relative humidity.",
		}),
		Valve: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valve_angle_degrees",
			Help:      "Commanded valve angle.",
		}, []string{"valve"}),
		AlarmsRaised: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_raised_total",
			Help:      "Alarms raised by kind.",
		}, []string{"kind"}),
		IOFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "io_failures_total",
			Help:      "Failed PLC, MQTT, bridge and store operations.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) PublishSnapshot(s *session.Snapshot) {
	m.TickDuration.Observe(s.TickDuration.Seconds())
	m.Phase.Set(float64(s.Phase))
	m.Elapsed.Set(float64(s.Elapsed))
	m.PressureFsw.Set(s.MeasuredFsw)
	m.TargetFsw.Set(s.TargetFsw)
	m.TrackingError.Set(s.Error)
	m.O2Percent.Set(s.Reading.O2Percent)
	m.Humidity.Set(s.Reading.HumidityPct)
	m.Valve.WithLabelValues("comp").Set(s.Comp)
	m.Valve.WithLabelValues("decomp").Set(s.Decomp)
}

func (m *Metrics) PublishAlarm(r alarm.Record) {
	m.AlarmsRaised.WithLabelValues(string(r.Kind)).Inc()
}

// IOFailure counts a failed background operation.
func (m *Metrics) IOFailure(operation string, _ error) {
	m.IOFailures.WithLabelValues(operation).Inc()
}
