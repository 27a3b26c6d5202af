// Package metrics provides per-component Prometheus registries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric this service exports.
const Namespace = "leasebridge"

// DurationBuckets covers ledger-bound actions, which wait for block
// confirmations and can take minutes.
var DurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// ComponentRegistry names and registers metrics for one component. Metrics
// are registered on the component's own registry, so several instances can
// coexist in one process.
type ComponentRegistry struct {
	namespace string
	subsystem string
	registry  *prometheus.Registry
	factory   promauto.Factory
}

// NewComponentRegistry creates a registry for a component.
func NewComponentRegistry(namespace, subsystem string) *ComponentRegistry {
	reg := prometheus.NewRegistry()
	return &ComponentRegistry{
		namespace: namespace,
		subsystem: subsystem,
		registry:  reg,
		factory:   promauto.With(reg),
	}
}

// Registry returns the underlying Prometheus registry.
func (r *ComponentRegistry) Registry() *prometheus.Registry {
	return r.registry
}

// NewCounterVec creates a new counter vector with proper naming.
func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return r.factory.NewCounterVec(opts, labelNames)
}

// NewCounter creates a new counter with proper naming.
func (r *ComponentRegistry) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return r.factory.NewCounter(opts)
}

// NewGauge creates a new gauge with proper naming.
func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return r.factory.NewGauge(opts)
}

// NewHistogramVec creates a new histogram vector with proper naming.
func (r *ComponentRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string,
) *prometheus.HistogramVec {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return r.factory.NewHistogramVec(opts, labelNames)
}

// Handler serves the given component registries together with the Go
// runtime and process collectors.
func Handler(components ...*ComponentRegistry) http.Handler {
	gatherers := prometheus.Gatherers{}
	base := prometheus.NewRegistry()
	base.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gatherers = append(gatherers, base)
	for _, c := range components {
		if c != nil {
			gatherers = append(gatherers, c.registry)
		}
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}
