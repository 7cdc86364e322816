// Package metrics exposes the simulation's Prometheus collectors. Every
// method is safe to call on a nil *Metrics, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "computergrid"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ticks          prometheus.Counter
	tickDuration   prometheus.Histogram
	computers      *prometheus.GaugeVec
	transitions    *prometheus.CounterVec
	eventsDropped  prometheus.Counter
	failures       *prometheus.CounterVec
	tasks          *prometheus.CounterVec
	tasksPending   prometheus.Gauge
	recomputes     *prometheus.CounterVec
	inconsistent   prometheus.Counter
	broadcastFails *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Host ticks executed.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds",
			Help:    "Wall time spent in one host tick.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		computers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "computers",
			Help: "Loaded computers by state.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "state_transitions_total",
			Help: "Computer state transitions.",
		}, []string{"from", "to"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Events dropped because a computer's queue was full.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "computer_failures_total",
			Help: "Boot failures and fatal script errors.",
		}, []string{"kind"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "main_thread_tasks_total",
			Help: "Main-thread tasks by outcome.",
		}, []string{"outcome"}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "main_thread_tasks_pending",
			Help: "Main-thread tasks left queued after the last drain.",
		}),
		recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "network_recomputes_total",
			Help: "Peripheral network recomputations.",
		}, []string{"mode"}),
		inconsistent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "network_inconsistencies_total",
			Help: "Reachable maps found stale and repaired.",
		}),
		broadcastFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_failures_total",
			Help: "State broadcasts that failed, by sink.",
		}, []string{"sink"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.ticks, m.tickDuration, m.computers, m.transitions, m.eventsDropped,
		m.failures, m.tasks, m.tasksPending, m.recomputes, m.inconsistent,
		m.broadcastFails,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

// SetComputers replaces the per-state gauge values.
func (m *Metrics) SetComputers(byState map[string]int) {
	if m == nil {
		return
	}
	m.computers.Reset()
	for state, n := range byState {
		m.computers.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) StateTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// Failure counts a boot failure or fatal script error.
func (m *Metrics) Failure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

// Tasks records one drain of the task bridge.
func (m *Metrics) Tasks(executed, timedOut, discarded, remaining int) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues("executed").Add(float64(executed))
	m.tasks.WithLabelValues("timed_out").Add(float64(timedOut))
	m.tasks.WithLabelValues("discarded").Add(float64(discarded))
	m.tasksPending.Set(float64(remaining))
}

func (m *Metrics) Recompute(full bool) {
	if m == nil {
		return
	}
	mode := "incremental"
	if full {
		mode = "full"
	}
	m.recomputes.WithLabelValues(mode).Inc()
}

func (m *Metrics) Inconsistency() {
	if m == nil {
		return
	}
	m.inconsistent.Inc()
}

func (m *Metrics) BroadcastFailure(sink string) {
	if m == nil {
		return
	}
	m.broadcastFails.WithLabelValues(sink).Inc()
}
