package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type schedulerMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	coalesced   *prometheus.CounterVec
	communities *prometheus.GaugeVec
}

func newSchedulerMetrics(registry prometheus.Registerer) *schedulerMetrics {
	factory := promauto.With(registry)
	return &schedulerMetrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_scheduler_task_runs_total",
			Help: "number of lifecycle task runs by outcome",
		}, []string{"task", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roster_scheduler_task_duration_seconds",
			Help:    "duration of lifecycle task runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"task"}),
		coalesced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_scheduler_coalesced_total",
			Help: "number of run requests folded into an already pending re-run",
		}, []string{"task"}),
		communities: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roster_scheduler_communities",
			Help: "number of communities by scheduler state",
		}, []string{"state"}),
	}
}
