// Package metrics exposes reconciliation and registry metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentstation/assetsync/pkg/reconciler"
	"github.com/agentstation/assetsync/pkg/registry"
)

const namespace = "assetsync"

// Metrics holds the collectors of one process.
type Metrics struct {
	gatherer prometheus.Gatherer

	cyclesTotal       *prometheus.CounterVec
	cycleDuration     *prometheus.HistogramVec
	resourcesTotal    *prometheus.CounterVec
	registered        *prometheus.GaugeVec
	storeCallsTotal   *prometheus.CounterVec
	storeCallDuration *prometheus.HistogramVec
}

var _ registry.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,

		cyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of reconciliation cycles per source, kind and result",
			},
			[]string{"source", "kind", "result"},
		),

		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of reconciliation cycles in seconds per source",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		resourcesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_total",
				Help:      "Total number of confirmed resource changes per source and change",
			},
			[]string{"source", "change"},
		),

		registered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_resources",
				Help:      "Number of resources currently registered per source",
			},
			[]string{"source"},
		),

		storeCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "calls_total",
				Help:      "Total number of registry calls per operation and outcome",
			},
			[]string{"op", "outcome"},
		),

		storeCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "call_duration_seconds",
				Help:      "Duration of registry calls in seconds per operation",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}

	reg.MustRegister(
		m.cyclesTotal,
		m.cycleDuration,
		m.resourcesTotal,
		m.registered,
		m.storeCallsTotal,
		m.storeCallDuration,
	)
	return m
}

// NewDefault registers with the default Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// ObserveStoreCall implements registry.Recorder.
func (m *Metrics) ObserveStoreCall(op, outcome string, elapsed time.Duration) {
	m.storeCallsTotal.WithLabelValues(op, outcome).Inc()
	m.storeCallDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveCycle records a finished cycle. It has the shape of a
// reconciler.Observer.
func (m *Metrics) ObserveCycle(res *reconciler.Result) {
	m.cyclesTotal.WithLabelValues(res.Source, string(res.Kind), cycleResult(res)).Inc()
	m.cycleDuration.WithLabelValues(res.Source).Observe(res.Duration.Seconds())

	added, updated, removed := res.Added(), res.Updated(), res.Removed()
	m.resourcesTotal.WithLabelValues(res.Source, "added").Add(float64(added))
	m.resourcesTotal.WithLabelValues(res.Source, "updated").Add(float64(updated))
	m.resourcesTotal.WithLabelValues(res.Source, "removed").Add(float64(removed))
	m.registered.WithLabelValues(res.Source).Add(float64(added - removed))
}

// SetRegistered sets the registered gauge of a source.
func (m *Metrics) SetRegistered(source string, n int) {
	m.registered.WithLabelValues(source).Set(float64(n))
}

// Forget drops the per-source series of a removed source.
func (m *Metrics) Forget(source string) {
	m.registered.DeleteLabelValues(source)
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func cycleResult(res *reconciler.Result) string {
	switch {
	case !res.IsSuccess():
		return "fatal"
	case res.Skipped:
		return "skipped"
	case res.Failure != nil:
		return res.Failure.Severity.String()
	default:
		return "ok"
	}
}
