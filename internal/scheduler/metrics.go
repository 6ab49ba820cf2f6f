package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tickCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasker_scheduler_ticks_total",
			Help: "Number of polling iterations run.",
		},
		[]string{"scheduler"},
	)
	tickFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasker_scheduler_tick_failures_total",
			Help: "Number of polling iterations that could not read the task store.",
		},
		[]string{"scheduler"},
	)
	dispatchedTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasker_tasks_dispatched_total",
			Help: "Number of tasks handed to a handler.",
		},
		[]string{"scheduler", "task"},
	)
	dispatchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasker_dispatch_failures_total",
			Help: "Number of tasks that could not be handed to a handler.",
		},
		[]string{"scheduler", "task"},
	)
	terminatedTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasker_tasks_terminated_total",
			Help: "Number of tasks that reached a terminal status.",
		},
		[]string{"scheduler", "task", "status"},
	)
	inflightTasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasker_tasks_inflight",
			Help: "Number of dispatched tasks that have not terminated.",
		},
		[]string{"scheduler"},
	)
	schedulerCollectors = []prometheus.Collector{
		tickCount,
		tickFailures,
		dispatchedTasks,
		dispatchFailures,
		terminatedTasks,
		inflightTasks,
	}

	metricsOnce sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(schedulerCollectors...)
	})
}
