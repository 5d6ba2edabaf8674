package extension

import (
	"context"

	"github.com/sorrel-ai/hearth/internal/model/contract"
)

// Instance is what every extension's entrypoint constructor returns.
// Everything beyond this minimal contract is detected dynamically via
// the capability interfaces below — there is no manifest "type" field.
type Instance interface {
	// Setup runs once, before any capability method, with the
	// extension's own Context. Returning an error aborts the loader's
	// initialize_all phase for this extension.
	Setup(ctx context.Context, ectx *Context) error
}

// ChannelProvider delivers user messages in and completed agent
// replies out.
type ChannelProvider interface {
	Instance
	// SendToUser delivers a non-streaming reply to the given session.
	SendToUser(ctx context.Context, sessionID string, message string) error
}

// StreamingChannelProvider additionally delivers incremental tokens as
// they are produced, falling back to ChannelProvider.SendToUser for
// non-streaming replies.
type StreamingChannelProvider interface {
	ChannelProvider
	// SendChunk delivers one incremental piece of a streamed reply.
	// final indicates the stream is complete.
	SendChunk(ctx context.Context, sessionID string, chunk string, final bool) error
}

// ToolProvider contributes tool definitions the model router/task
// engine can invoke.
type ToolProvider interface {
	Instance
	Tools() []contract.ToolDef
	InvokeTool(ctx context.Context, name string, input []byte) ([]byte, error)
}

// AgentProvider contributes a fully custom agent implementation beyond
// the declarative `agent.model` + `agent.system_prompt` manifest form.
type AgentProvider interface {
	Instance
	RunAgent(ctx context.Context, sessionID string, input string) (string, error)
}

// ServiceProvider runs a background long-lived service with no direct
// channel/tool/agent surface (e.g. a metrics exporter).
type ServiceProvider interface {
	Instance
	Run(ctx context.Context) error
}

// SchedulerProvider declares cron-triggered work in code; its
// Schedules() replace the manifest's declarative `schedules` block.
type SchedulerProvider interface {
	Instance
	Schedules() []ScheduleBlock
	OnSchedule(ctx context.Context, name string) error
}

// ContextProvider supplies additional context (memory, retrieval) that
// the message router folds into an agent invocation.
type ContextProvider interface {
	Instance
	RecallContext(ctx context.Context, sessionID string, query string) (string, error)
}

// SetupProvider lets an extension perform provisioning (e.g. OAuth)
// distinct from Setup's per-start wiring; the loader invokes FirstRun
// before Setup each time it initializes the extension and does not
// record whether it ran in an earlier process.
type SetupProvider interface {
	Instance
	FirstRun(ctx context.Context, ectx *Context) error
}

// Lifecycle is implemented by extensions that need explicit
// start/stop hooks beyond Setup (e.g. opening a network listener).
type Lifecycle interface {
	Instance
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthChecker is implemented by extensions that can report their own
// health beyond "Setup succeeded".
type HealthChecker interface {
	Instance
	Health(ctx context.Context) error
}

// Factory constructs a fresh Instance for one discovered manifest. The
// same Go package may register more than one factory only if it ships
// more than one extension id, which is unusual but not forbidden.
type Factory func() Instance
