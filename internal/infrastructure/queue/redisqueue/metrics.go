// Package redisqueue - метрики очереди.
package redisqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "queue",
		Name:      "jobs_enqueued_total",
		Help:      "Jobs accepted into the queue.",
	}, []string{"queue"})

	jobsDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "queue",
		Name:      "jobs_deduplicated_total",
		Help:      "Enqueues ignored because the job ID was already live.",
	}, []string{"queue"})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "queue",
		Name:      "jobs_completed_total",
		Help:      "Jobs processed successfully.",
	}, []string{"queue"})

	jobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "queue",
		Name:      "jobs_retried_total",
		Help:      "Job attempts that failed and were rescheduled.",
	}, []string{"queue"})

	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "queue",
		Name:      "jobs_failed_total",
		Help:      "Jobs that exhausted all attempts.",
	}, []string{"queue"})

	jobsReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "queue",
		Name:      "jobs_reclaimed_total",
		Help:      "Stalled jobs returned from active back to wait.",
	}, []string{"queue"})
)
