// Package metrics holds the kernel's prometheus counters/gauges,
// registered once against the default registry and incremented from
// the event bus and task engine as they process work.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_events_published_total",
		Help: "Events published to the durable event bus, by topic.",
	}, []string{"topic"})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_events_dispatched_total",
		Help: "Events dispatched to handlers, by topic and outcome.",
	}, []string{"topic", "outcome"})

	TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_tasks_submitted_total",
		Help: "Tasks submitted to the durable task engine, by agent.",
	}, []string{"agent_id"})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_tasks_completed_total",
		Help: "Tasks that reached a terminal state, by agent and status.",
	}, []string{"agent_id", "status"})

	TaskLeaseRenewals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_task_lease_renewals_total",
		Help: "Task lease renewals issued by the task engine.",
	})
)
