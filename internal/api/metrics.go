package api

import (
	"net/http"
	"time"

	"github.com/FairForge/meridian/internal/failover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the orchestrator
type Metrics struct {
	TransitionCounter *prometheus.CounterVec
	StateGauge        *prometheus.GaugeVec
	EventCounter      *prometheus.CounterVec
	ProbeCounter      *prometheus.CounterVec
	ProbeLatency      *prometheus.HistogramVec
	LagGauge          *prometheus.GaugeVec
	LagKnownGauge     *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// NewMetrics creates and registers all metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		TransitionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_coordinator_transitions_total",
				Help: "Coordinator state transitions",
			},
			[]string{"from", "to"},
		),
		StateGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meridian_coordinator_state",
				Help: "Current coordinator state (1 for the active state)",
			},
			[]string{"state"},
		),
		EventCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_failover_events_total",
				Help: "Failover events created, by cause",
			},
			[]string{"cause"},
		),
		ProbeCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_health_probes_total",
				Help: "Health probe outcomes",
			},
			[]string{"region", "result"},
		),
		ProbeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_health_probe_duration_seconds",
				Help:    "Health probe latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"region"},
		),
		LagGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meridian_replication_lag_seconds",
				Help: "Last measured replication lag per channel",
			},
			[]string{"channel"},
		),
		LagKnownGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meridian_replication_lag_known",
				Help: "1 when the channel's lag measurement succeeded, 0 when unknown",
			},
			[]string{"channel"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.TransitionCounter,
		m.StateGauge,
		m.EventCounter,
		m.ProbeCounter,
		m.ProbeLatency,
		m.LagGauge,
		m.LagKnownGauge,
	)

	m.setState(failover.StateActivePrimary)
	return m
}

// Transition implements failover.Metrics
func (m *Metrics) Transition(from, to failover.State) {
	m.TransitionCounter.WithLabelValues(string(from), string(to)).Inc()
	m.setState(to)
}

// EventCreated implements failover.Metrics
func (m *Metrics) EventCreated(cause failover.Cause) {
	m.EventCounter.WithLabelValues(string(cause)).Inc()
}

// ProbeObserved implements health.Metrics
func (m *Metrics) ProbeObserved(regionID string, success bool, latency time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.ProbeCounter.WithLabelValues(regionID, result).Inc()
	m.ProbeLatency.WithLabelValues(regionID).Observe(latency.Seconds())
}

// LagObserved implements replication.Metrics
func (m *Metrics) LagObserved(channelID string, lag time.Duration, known bool) {
	if known {
		m.LagGauge.WithLabelValues(channelID).Set(lag.Seconds())
		m.LagKnownGauge.WithLabelValues(channelID).Set(1)
	} else {
		m.LagKnownGauge.WithLabelValues(channelID).Set(0)
	}
}

func (m *Metrics) setState(active failover.State) {
	states := []failover.State{
		failover.StateActivePrimary,
		failover.StateEvaluating,
		failover.StatePromoting,
		failover.StateActiveSecondary,
		failover.StateFailingBack,
		failover.StateDegradedManual,
	}
	for _, s := range states {
		v := 0.0
		if s == active {
			v = 1.0
		}
		m.StateGauge.WithLabelValues(string(s)).Set(v)
	}
}

// Handler returns the Prometheus metrics handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
