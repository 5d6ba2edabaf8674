package taskengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sorrel-ai/hearth/internal/model/contract"
)

// AgentModelRouter is the subset of modelrouter.Router an
// AgentExecutor needs, narrowed here to keep this package independent
// of internal/modelrouter.
type AgentModelRouter interface {
	Route(ctx context.Context, agentID string, req contract.CompletionRequest) (*contract.CompletionResponse, error)
}

// taskState is the checkpointed conversation a task resumes from.
type taskState struct {
	Messages []contract.Message `json:"messages"`
}

// AgentExecutor runs a Task by routing its goal (plus any prior
// checkpointed conversation) through the agent model router, a single
// completion per attempt with no tool-calling loop of its own — tasks
// that need tools submit_task into an agent session via the message
// router instead of executing tools inline here.
type AgentExecutor struct {
	models AgentModelRouter
}

func NewAgentExecutor(models AgentModelRouter) *AgentExecutor {
	return &AgentExecutor{models: models}
}

func (e *AgentExecutor) Execute(ctx context.Context, t *Task, ckpt CheckpointFunc) (json.RawMessage, error) {
	state := taskState{}
	if len(t.Checkpoint) > 0 {
		if err := json.Unmarshal(t.Checkpoint, &state); err != nil {
			return nil, fmt.Errorf("unmarshal task checkpoint: %w", err)
		}
	}
	if len(state.Messages) == 0 {
		state.Messages = []contract.Message{{Role: "user", Content: t.Goal}}
	}

	resp, err := e.models.Route(ctx, t.AgentID, contract.CompletionRequest{Messages: state.Messages})
	if err != nil {
		return nil, err
	}

	state.Messages = append(state.Messages, contract.Message{Role: "assistant", Content: resp.Content})
	if stateBytes, marshalErr := json.Marshal(state); marshalErr == nil {
		_ = ckpt(ctx, stateBytes)
	}

	return json.Marshal(map[string]string{"content": resp.Content})
}

var _ Executor = (*AgentExecutor)(nil)
