package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEventsPublished_Increments(t *testing.T) {
	before := testutil.ToFloat64(EventsPublished.WithLabelValues("test.topic"))
	EventsPublished.WithLabelValues("test.topic").Inc()
	after := testutil.ToFloat64(EventsPublished.WithLabelValues("test.topic"))

	if after != before+1 {
		t.Fatalf("counter = %v, want %v", after, before+1)
	}
}

func TestTasksSubmitted_Increments(t *testing.T) {
	before := testutil.ToFloat64(TasksSubmitted.WithLabelValues("agent-metrics-test"))
	TasksSubmitted.WithLabelValues("agent-metrics-test").Inc()
	after := testutil.ToFloat64(TasksSubmitted.WithLabelValues("agent-metrics-test"))

	if after != before+1 {
		t.Fatalf("counter = %v, want %v", after, before+1)
	}
}
