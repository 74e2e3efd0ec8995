package indexsync

import "github.com/prometheus/client_golang/prometheus"

var TaskCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ipifhub",
	Subsystem: "indexsync",
	Name:      "tasks_total",
	Help:      "Refresh tasks processed, by record kind and outcome.",
}, []string{"kind", "outcome"})

var TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "ipifhub",
	Subsystem: "indexsync",
	Name:      "task_duration_seconds",
	Help:      "Time to project and write one refresh task.",
	Buckets:   prometheus.DefBuckets,
}, []string{"kind"})

var HopCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ipifhub",
	Subsystem: "indexsync",
	Name:      "factoid_hops_total",
	Help:      "Related records refreshed after a factoid task.",
}, []string{"kind", "outcome"})

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{TaskCount, TaskDuration, HopCount}
}
