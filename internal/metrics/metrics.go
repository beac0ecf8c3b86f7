// Package metrics wires the driver's scheduler and dispatch counters into
// Prometheus. The collector fields and CounterVec/GaugeVec shape follow
// oriys-nova's internal/metrics/prometheus.go; unlike that file, collectors
// live on an explicitly constructed Metrics value rather than a package
// singleton, matching the rest of this module's services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the driver exposes.
type Metrics struct {
	registry *prometheus.Registry

	heartbeatTicksTotal    prometheus.Counter
	heartbeatErrorsTotal   *prometheus.CounterVec
	heartbeatObjectsActive prometheus.Gauge

	calloutsScheduledTotal prometheus.Counter
	calloutsFiredTotal     prometheus.Counter
	calloutsCancelledTotal prometheus.Counter
	calloutsPending        prometheus.Gauge

	commandsDispatchedTotal *prometheus.CounterVec
	commandDispatchSeconds  *prometheus.HistogramVec

	connectionsActive   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	framesDroppedTotal  *prometheus.CounterVec
}

// New builds a Metrics instance and its own private Prometheus registry
// (plus the standard Go/process collectors), namespaced under namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		heartbeatTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_ticks_total",
			Help:      "Total number of heartbeat ring ticks processed",
		}),
		heartbeatErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_errors_total",
			Help:      "Total heartbeat handler panics/errors by object blueprint path",
		}, []string{"blueprint"}),
		heartbeatObjectsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heartbeat_objects_active",
			Help:      "Number of objects currently enabled for heartbeat",
		}),

		calloutsScheduledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callouts_scheduled_total",
			Help:      "Total callouts scheduled",
		}),
		calloutsFiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callouts_fired_total",
			Help:      "Total callouts fired",
		}),
		calloutsCancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callouts_cancelled_total",
			Help:      "Total callouts cancelled before firing",
		}),
		calloutsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "callouts_pending",
			Help:      "Number of callouts currently pending",
		}),

		commandsDispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Total commands dispatched by verb and outcome",
		}, []string{"verb", "outcome"}),
		commandDispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_dispatch_seconds",
			Help:      "Time spent resolving and running a dispatched command",
			Buckets:   prometheus.DefBuckets,
		}, []string{"verb"}),

		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open connections",
		}),
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Total connections accepted",
		}),
		framesDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total outbound frames dropped, by reason",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.heartbeatTicksTotal,
		m.heartbeatErrorsTotal,
		m.heartbeatObjectsActive,
		m.calloutsScheduledTotal,
		m.calloutsFiredTotal,
		m.calloutsCancelledTotal,
		m.calloutsPending,
		m.commandsDispatchedTotal,
		m.commandDispatchSeconds,
		m.connectionsActive,
		m.connectionsAccepted,
		m.framesDroppedTotal,
	)

	return m
}

// Handler returns an http.Handler serving this instance's metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncHeartbeatTick()                      { m.heartbeatTicksTotal.Inc() }
func (m *Metrics) IncHeartbeatError(blueprint string)      { m.heartbeatErrorsTotal.WithLabelValues(blueprint).Inc() }
func (m *Metrics) SetHeartbeatObjectsActive(n int)         { m.heartbeatObjectsActive.Set(float64(n)) }

func (m *Metrics) IncCalloutScheduled()   { m.calloutsScheduledTotal.Inc() }
func (m *Metrics) IncCalloutFired()       { m.calloutsFiredTotal.Inc() }
func (m *Metrics) IncCalloutCancelled()   { m.calloutsCancelledTotal.Inc() }
func (m *Metrics) SetCalloutsPending(n int) { m.calloutsPending.Set(float64(n)) }

func (m *Metrics) ObserveDispatch(verb, outcome string, seconds float64) {
	m.commandsDispatchedTotal.WithLabelValues(verb, outcome).Inc()
	m.commandDispatchSeconds.WithLabelValues(verb).Observe(seconds)
}

func (m *Metrics) SetConnectionsActive(n int)     { m.connectionsActive.Set(float64(n)) }
func (m *Metrics) IncConnectionsAccepted()        { m.connectionsAccepted.Inc() }
func (m *Metrics) IncFramesDropped(reason string) { m.framesDroppedTotal.WithLabelValues(reason).Inc() }
