package coretools

import (
	"context"
	"encoding/json"
	"fmt"

	hearthErrors "github.com/sorrel-ai/hearth/internal/errors"
	"github.com/sorrel-ai/hearth/internal/taskengine"
)

type submitTaskInput struct {
	AgentID       string `json:"agent_id"`
	Goal          string `json:"goal"`
	ParentTaskID  string `json:"parent_task_id"`
	MaxAttempts   int    `json:"max_attempts"`
}

type submitTaskOutput struct {
	TaskID string `json:"task_id"`
}

// SubmitTaskTool implements submit_task(agent_id, goal[, parent_task_id]).
type SubmitTaskTool struct {
	engine *taskengine.Engine
}

func NewSubmitTaskTool(engine *taskengine.Engine) *SubmitTaskTool {
	return &SubmitTaskTool{engine: engine}
}

func (t *SubmitTaskTool) Name() string        { return "submit_task" }
func (t *SubmitTaskTool) Description() string { return "Enqueue a durable task for an agent to execute, optionally as a subtask of the current task." }
func (t *SubmitTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agent_id":       map[string]interface{}{"type": "string"},
			"goal":           map[string]interface{}{"type": "string"},
			"parent_task_id": map[string]interface{}{"type": "string"},
			"max_attempts":   map[string]interface{}{"type": "integer"},
		},
		"required": []string{"agent_id", "goal"},
	}
}

func (t *SubmitTaskTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in submitTaskInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, hearthErrors.InvalidInput(fmt.Sprintf("submit_task: %v", err))
	}
	task, err := t.engine.Submit(ctx, in.ParentTaskID, in.AgentID, in.Goal, in.MaxAttempts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(submitTaskOutput{TaskID: task.ID})
}

type taskIDInput struct {
	TaskID string `json:"task_id"`
}

// GetTaskStatusTool implements get_task_status(task_id).
type GetTaskStatusTool struct {
	engine *taskengine.Engine
}

func NewGetTaskStatusTool(engine *taskengine.Engine) *GetTaskStatusTool {
	return &GetTaskStatusTool{engine: engine}
}

func (t *GetTaskStatusTool) Name() string        { return "get_task_status" }
func (t *GetTaskStatusTool) Description() string { return "Look up a durable task's current status, attempts, and result." }
func (t *GetTaskStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"task_id": map[string]interface{}{"type": "string"}},
		"required":   []string{"task_id"},
	}
}

func (t *GetTaskStatusTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in taskIDInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, hearthErrors.InvalidInput(fmt.Sprintf("get_task_status: %v", err))
	}
	task, err := t.engine.Get(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(task)
}

// ListActiveTasksTool implements list_active_tasks().
type ListActiveTasksTool struct {
	engine *taskengine.Engine
}

func NewListActiveTasksTool(engine *taskengine.Engine) *ListActiveTasksTool {
	return &ListActiveTasksTool{engine: engine}
}

func (t *ListActiveTasksTool) Name() string        { return "list_active_tasks" }
func (t *ListActiveTasksTool) Description() string { return "List tasks currently pending or leased." }
func (t *ListActiveTasksTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *ListActiveTasksTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	tasks, err := t.engine.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tasks)
}

// CancelTaskTool implements cancel_task(task_id).
type CancelTaskTool struct {
	engine *taskengine.Engine
}

func NewCancelTaskTool(engine *taskengine.Engine) *CancelTaskTool {
	return &CancelTaskTool{engine: engine}
}

func (t *CancelTaskTool) Name() string        { return "cancel_task" }
func (t *CancelTaskTool) Description() string { return "Cancel a pending or leased task." }
func (t *CancelTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"task_id": map[string]interface{}{"type": "string"}},
		"required":   []string{"task_id"},
	}
}

func (t *CancelTaskTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in taskIDInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, hearthErrors.InvalidInput(fmt.Sprintf("cancel_task: %v", err))
	}
	if err := t.engine.Cancel(ctx, in.TaskID); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]bool{"cancelled": true})
}

type requestHumanReviewInput struct {
	TaskID  string `json:"task_id"`
	Summary string `json:"summary"`
}

// RequestHumanReviewTool implements request_human_review(task_id,
// summary): it returns an acknowledgement only; the task's status,
// lease and checkpoint are left as they are and no event is published.
type RequestHumanReviewTool struct {
	engine *taskengine.Engine
}

func NewRequestHumanReviewTool(engine *taskengine.Engine) *RequestHumanReviewTool {
	return &RequestHumanReviewTool{engine: engine}
}

func (t *RequestHumanReviewTool) Name() string { return "request_human_review" }
func (t *RequestHumanReviewTool) Description() string {
	return "Ask a human to review a task's progress; the task is not paused."
}
func (t *RequestHumanReviewTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{"type": "string"},
			"summary": map[string]interface{}{"type": "string"},
		},
		"required": []string{"task_id", "summary"},
	}
}

func (t *RequestHumanReviewTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in requestHumanReviewInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, hearthErrors.InvalidInput(fmt.Sprintf("request_human_review: %v", err))
	}
	return json.Marshal(map[string]string{"task_id": in.TaskID, "status": "human_review_requested"})
}

type respondToReviewInput struct {
	TaskID  string `json:"task_id"`
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

// RespondToReviewTool implements respond_to_review(task_id, approve,
// notes): a human (via a channel extension) answers a
// request_human_review. approve=false cancels the task; approve=true
// reports it as resumed and leaves its state unchanged.
type RespondToReviewTool struct {
	engine *taskengine.Engine
}

func NewRespondToReviewTool(engine *taskengine.Engine) *RespondToReviewTool {
	return &RespondToReviewTool{engine: engine}
}

func (t *RespondToReviewTool) Name() string        { return "respond_to_review" }
func (t *RespondToReviewTool) Description() string { return "Resume or cancel a task pending human review." }
func (t *RespondToReviewTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{"type": "string"},
			"approve": map[string]interface{}{"type": "boolean"},
			"notes":   map[string]interface{}{"type": "string"},
		},
		"required": []string{"task_id", "approve"},
	}
}

func (t *RespondToReviewTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in respondToReviewInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, hearthErrors.InvalidInput(fmt.Sprintf("respond_to_review: %v", err))
	}
	if !in.Approve {
		if err := t.engine.Cancel(ctx, in.TaskID); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"task_id": in.TaskID, "status": "cancelled"})
	}
	return json.Marshal(map[string]string{"task_id": in.TaskID, "status": "resumed"})
}
