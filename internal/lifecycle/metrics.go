package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alfredjeanlab/leasebridge/internal/metrics"
	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// Metrics holds the coordinator metrics.
type Metrics struct {
	registry *metrics.ComponentRegistry

	ActionsTotal   *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	PersistRetries prometheus.Counter
	ConflictsOpen  prometheus.Gauge
}

// NewMetrics creates coordinator metrics on their own registry.
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry(metrics.Namespace, "lifecycle")

	return &Metrics{
		registry: reg,

		ActionsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "actions_total",
			Help: "Agreement actions by outcome",
		}, []string{"action", "result"}),

		ActionDuration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "action_duration_seconds",
			Help:    "Time from request to outcome, ledger confirmations included",
			Buckets: metrics.DurationBuckets,
		}, []string{"action"}),

		PersistRetries: reg.NewCounter(prometheus.CounterOpts{
			Name: "persist_retries_total",
			Help: "Record store patches retried after a ledger write",
		}),

		ConflictsOpen: reg.NewGauge(prometheus.GaugeOpts{
			Name: "conflicts_open",
			Help: "Agreements with an unresolved reconciliation conflict",
		}),
	}
}

// Registry returns the component registry for exposition.
func (m *Metrics) Registry() *metrics.ComponentRegistry { return m.registry }

func (m *Metrics) observe(action model.Action, err error, start, end time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
		if k := model.KindOf(err); k != "" {
			result = k.String()
		}
	}
	label := action.String()
	if !action.IsValid() {
		label = "unknown"
	}
	m.ActionsTotal.WithLabelValues(label, result).Inc()
	m.ActionDuration.WithLabelValues(label).Observe(end.Sub(start).Seconds())
}
