package taskengine

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type fakeExecutor struct {
	result json.RawMessage
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(ctx context.Context, t *Task, ckpt CheckpointFunc) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func openTestEngine(t *testing.T, exec Executor) *Engine {
	t.Helper()
	e, err := Open(t.TempDir()+"/tasks.db", exec, Options{
		PollInterval: 10 * time.Millisecond,
		LeaseDuration: time.Second,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func TestEngine_SubmitAndGet(t *testing.T) {
	e := openTestEngine(t, &fakeExecutor{result: json.RawMessage(`{"ok":true}`)})

	task, err := e.Submit(context.Background(), "", "agent-1", "do the thing", 3)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if task.Status != StatusPending {
		t.Fatalf("status = %s, want pending", task.Status)
	}

	got, err := e.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Goal != "do the thing" || got.AgentID != "agent-1" {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestEngine_SubmitRejectsExcessiveSubtaskDepth(t *testing.T) {
	e := openTestEngine(t, &fakeExecutor{})

	parent, err := e.Submit(context.Background(), "", "agent-1", "root", 1)
	if err != nil {
		t.Fatalf("Submit root failed: %v", err)
	}

	current := parent
	for i := 0; i < MaxSubtaskDepth; i++ {
		current, err = e.Submit(context.Background(), current.ID, "agent-1", "child", 1)
		if err != nil {
			t.Fatalf("Submit child %d failed: %v", i, err)
		}
	}

	if _, err := e.Submit(context.Background(), current.ID, "agent-1", "too deep", 1); err == nil {
		t.Fatal("expected error submitting beyond MaxSubtaskDepth, got nil")
	}
}

func TestEngine_CancelPendingTask(t *testing.T) {
	e := openTestEngine(t, &fakeExecutor{})

	task, err := e.Submit(context.Background(), "", "agent-1", "cancel me", 1)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := e.Cancel(context.Background(), task.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	got, err := e.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestEngine_ListActiveExcludesTerminalTasks(t *testing.T) {
	e := openTestEngine(t, &fakeExecutor{})

	active, err := e.Submit(context.Background(), "", "agent-1", "active", 1)
	if err != nil {
		t.Fatalf("Submit active failed: %v", err)
	}
	done, err := e.Submit(context.Background(), "", "agent-1", "done", 1)
	if err != nil {
		t.Fatalf("Submit done failed: %v", err)
	}
	if err := e.Cancel(context.Background(), done.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	tasks, err := e.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	for _, ts := range tasks {
		if ts.ID == done.ID {
			t.Fatalf("ListActive returned cancelled task %s", done.ID)
		}
	}
	found := false
	for _, ts := range tasks {
		if ts.ID == active.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListActive did not return pending task %s", active.ID)
	}
}

func TestEngine_RunsSubmittedTaskToCompletion(t *testing.T) {
	exec := &fakeExecutor{result: json.RawMessage(`{"ok":true}`)}
	e := openTestEngine(t, exec)

	task, err := e.Submit(context.Background(), "", "agent-1", "run me", 1)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := e.Get(context.Background(), task.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status == StatusDone {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("task did not reach done status before deadline")
}
