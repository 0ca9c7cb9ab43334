package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type reconcilerMetrics struct {
	created  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// newReconcilerMetrics builds the collectors; a nil registry leaves them unregistered.
func newReconcilerMetrics(registry prometheus.Registerer) *reconcilerMetrics {
	factory := promauto.With(registry)
	return &reconcilerMetrics{
		created: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_reconcile_created_total",
			Help: "number of resources and surface messages created by reconciliation",
		}, []string{"kind"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_reconcile_failures_total",
			Help: "number of resources that failed to be created",
		}, []string{"kind"}),
	}
}
