package coretools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sorrel-ai/hearth/internal/eventbus"
	"github.com/sorrel-ai/hearth/internal/taskengine"
)

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	bus, err := eventbus.Open(t.TempDir() + "/bus.db")
	if err != nil {
		t.Fatalf("eventbus.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })
	return bus
}

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, t *taskengine.Task, ckpt taskengine.CheckpointFunc) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func openTestEngine(t *testing.T) *taskengine.Engine {
	t.Helper()
	e, err := taskengine.Open(t.TempDir()+"/tasks.db", noopExecutor{}, taskengine.Options{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func TestSubmitTaskTool_Execute(t *testing.T) {
	engine := openTestEngine(t)
	tool := NewSubmitTaskTool(engine)

	input, _ := json.Marshal(map[string]interface{}{"agent_id": "agent-1", "goal": "do a thing"})
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var result submitTaskOutput
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.TaskID == "" {
		t.Fatal("expected non-empty task_id")
	}
}

func TestGetTaskStatusTool_Execute(t *testing.T) {
	engine := openTestEngine(t)
	task, err := engine.Submit(context.Background(), "", "agent-1", "goal", 1)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	tool := NewGetTaskStatusTool(engine)
	input, _ := json.Marshal(taskIDInput{TaskID: task.ID})
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var got taskengine.Task
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != task.ID {
		t.Fatalf("got task id %s, want %s", got.ID, task.ID)
	}
}

func TestCancelTaskTool_Execute(t *testing.T) {
	engine := openTestEngine(t)
	task, err := engine.Submit(context.Background(), "", "agent-1", "goal", 1)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	tool := NewCancelTaskTool(engine)
	input, _ := json.Marshal(taskIDInput{TaskID: task.ID})
	if _, err := tool.Execute(context.Background(), input); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	got, err := engine.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != taskengine.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestRespondToReviewTool_RejectCancelsTask(t *testing.T) {
	engine := openTestEngine(t)
	task, err := engine.Submit(context.Background(), "", "agent-1", "goal", 1)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	tool := NewRespondToReviewTool(engine)
	input, _ := json.Marshal(respondToReviewInput{TaskID: task.ID, Approve: false})
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var result map[string]string
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result["status"] != "cancelled" {
		t.Fatalf("status = %s, want cancelled", result["status"])
	}

	got, err := engine.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != taskengine.StatusCancelled {
		t.Fatalf("engine status = %s, want cancelled", got.Status)
	}
}

func TestRespondToReviewTool_ApproveLeavesTaskRunning(t *testing.T) {
	engine := openTestEngine(t)
	task, err := engine.Submit(context.Background(), "", "agent-1", "goal", 1)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	tool := NewRespondToReviewTool(engine)
	input, _ := json.Marshal(respondToReviewInput{TaskID: task.ID, Approve: true})
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var result map[string]string
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result["status"] != "resumed" {
		t.Fatalf("status = %s, want resumed", result["status"])
	}

	got, err := engine.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status == taskengine.StatusCancelled {
		t.Fatal("approve should not cancel the task")
	}
}
