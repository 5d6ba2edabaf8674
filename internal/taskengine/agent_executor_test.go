package taskengine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sorrel-ai/hearth/internal/model/contract"
)

type fakeModelRouter struct {
	lastAgentID string
	lastReq     contract.CompletionRequest
	resp        *contract.CompletionResponse
	err         error
}

func (f *fakeModelRouter) Route(ctx context.Context, agentID string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	f.lastAgentID = agentID
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestAgentExecutor_SeedsConversationFromGoal(t *testing.T) {
	router := &fakeModelRouter{resp: &contract.CompletionResponse{Content: "hello back"}}
	exec := NewAgentExecutor(router)

	var checkpointed json.RawMessage
	ckpt := func(ctx context.Context, state json.RawMessage) error {
		checkpointed = state
		return nil
	}

	task := &Task{AgentID: "agent-1", Goal: "say hi"}
	out, err := exec.Execute(context.Background(), task, ckpt)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if router.lastAgentID != "agent-1" {
		t.Fatalf("routed to agent %q, want agent-1", router.lastAgentID)
	}
	if len(router.lastReq.Messages) != 1 || router.lastReq.Messages[0].Content != "say hi" {
		t.Fatalf("unexpected seeded messages: %+v", router.lastReq.Messages)
	}

	var result map[string]string
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["content"] != "hello back" {
		t.Fatalf("content = %q, want %q", result["content"], "hello back")
	}

	var state taskState
	if err := json.Unmarshal(checkpointed, &state); err != nil {
		t.Fatalf("unmarshal checkpoint: %v", err)
	}
	if len(state.Messages) != 2 || state.Messages[1].Role != "assistant" {
		t.Fatalf("checkpoint should append assistant turn: %+v", state.Messages)
	}
}

func TestAgentExecutor_ResumesFromCheckpoint(t *testing.T) {
	router := &fakeModelRouter{resp: &contract.CompletionResponse{Content: "continuing"}}
	exec := NewAgentExecutor(router)

	prior := taskState{Messages: []contract.Message{
		{Role: "user", Content: "step one"},
		{Role: "assistant", Content: "did step one"},
	}}
	checkpoint, _ := json.Marshal(prior)

	task := &Task{AgentID: "agent-1", Goal: "step one", Checkpoint: checkpoint}
	_, err := exec.Execute(context.Background(), task, func(ctx context.Context, state json.RawMessage) error { return nil })
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(router.lastReq.Messages) != 2 {
		t.Fatalf("expected resumed conversation to carry 2 prior messages, got %d", len(router.lastReq.Messages))
	}
}

func TestAgentExecutor_PropagatesRouteError(t *testing.T) {
	router := &fakeModelRouter{err: context.DeadlineExceeded}
	exec := NewAgentExecutor(router)

	task := &Task{AgentID: "agent-1", Goal: "fail please"}
	_, err := exec.Execute(context.Background(), task, func(ctx context.Context, state json.RawMessage) error { return nil })
	if err == nil {
		t.Fatal("expected error from Execute, got nil")
	}
}
