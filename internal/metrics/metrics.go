// Package metrics provides Prometheus metrics collection for
// container lifecycle and backup/restore operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector dbforge exposes.
type Metrics struct {
	EngineStartsTotal *prometheus.CounterVec
	EngineStopsTotal  *prometheus.CounterVec
	RestoresTotal     *prometheus.CounterVec
	BackupsTotal      *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	RunningContainers prometheus.Gauge
	ReadinessDuration *prometheus.HistogramVec
}

// New creates a Metrics instance registered against the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer.
// A nil registerer skips registration entirely, useful in tests that
// construct multiple Metrics instances in one process.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EngineStartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbforge_engine_starts_total",
				Help: "Total number of engine start attempts",
			},
			[]string{"engine", "status"},
		),
		EngineStopsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbforge_engine_stops_total",
				Help: "Total number of engine stop attempts",
			},
			[]string{"engine", "status"},
		),
		RestoresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbforge_restores_total",
				Help: "Total number of restore operations",
			},
			[]string{"engine", "status"},
		),
		BackupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbforge_backups_total",
				Help: "Total number of backup operations",
			},
			[]string{"engine", "status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbforge_errors_total",
				Help: "Total number of typed errors raised, by code",
			},
			[]string{"code"},
		),
		RunningContainers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dbforge_running_containers",
				Help: "Current number of containers the supervisor reports as running",
			},
		),
		ReadinessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbforge_readiness_probe_seconds",
				Help:    "Time spent waiting for an engine to become ready after spawn",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"engine"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.EngineStartsTotal,
			m.EngineStopsTotal,
			m.RestoresTotal,
			m.BackupsTotal,
			m.ErrorsTotal,
			m.RunningContainers,
			m.ReadinessDuration,
		)
	}

	return m
}

// RecordStart records an engine start attempt's outcome.
func (m *Metrics) RecordStart(engine, status string) {
	m.EngineStartsTotal.WithLabelValues(engine, status).Inc()
}

// RecordStop records an engine stop attempt's outcome.
func (m *Metrics) RecordStop(engine, status string) {
	m.EngineStopsTotal.WithLabelValues(engine, status).Inc()
}

// RecordRestore records a restore operation's outcome.
func (m *Metrics) RecordRestore(engine, status string) {
	m.RestoresTotal.WithLabelValues(engine, status).Inc()
}

// RecordBackup records a backup operation's outcome.
func (m *Metrics) RecordBackup(engine, status string) {
	m.BackupsTotal.WithLabelValues(engine, status).Inc()
}

// RecordError records a typed error by its closed-enum code.
func (m *Metrics) RecordError(code string) {
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// SetRunningContainers sets the current running-container gauge.
func (m *Metrics) SetRunningContainers(count int) {
	m.RunningContainers.Set(float64(count))
}

// ObserveReadiness records how long a readiness probe loop took.
func (m *Metrics) ObserveReadiness(engine string, d time.Duration) {
	m.ReadinessDuration.WithLabelValues(engine).Observe(d.Seconds())
}
