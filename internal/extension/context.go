package extension

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sorrel-ai/hearth/internal/kernelerrors"
)

// Host is the kernel-side surface a Context delegates to. The loader
// implements Host once and hands every extension's Context a view
// scoped to that extension's own id and depends_on list.
type Host interface {
	Emit(ctx context.Context, topic string, payload interface{}) (string, error)
	Subscribe(topic string, handler func(ctx context.Context, topic string, payload []byte) error)
	Unsubscribe(topic string)
	InvokeAgent(ctx context.Context, agentID, sessionID, input string) (string, error)
	InvokeAgentStreamed(ctx context.Context, agentID, sessionID, input string, onChunk func(chunk string, final bool) error) error
	NotifyUser(ctx context.Context, sessionID, message string) error
	RequestRestart(reason string)
	RequestShutdown(reason string)
	GetSecret(ctx context.Context, id string) (string, error)
	ExtensionConfig(id string) map[string]any
	DataDir(id string) string
	InstanceOf(id string) (Instance, bool)
}

// Context is the capability surface handed to one extension. Every
// method is scoped to the owning extension's id: data_dir returns
// this extension's own data directory, get_extension enforces this
// extension's depends_on boundary, and so on.
type Context struct {
	id        string
	dependsOn map[string]bool
	host      Host
	logger    *slog.Logger

	mu            sync.Mutex
	subscriptions []string
}

// NewContext builds the Context a loader hands to one extension
// instance during Setup.
func NewContext(id string, dependsOn []string, host Host) *Context {
	deps := make(map[string]bool, len(dependsOn))
	for _, d := range dependsOn {
		deps[d] = true
	}
	return &Context{
		id:        id,
		dependsOn: deps,
		host:      host,
		logger:    slog.Default().With("extension", id),
	}
}

// Logger returns a structured logger pre-tagged with this extension's id.
func (c *Context) Logger() *slog.Logger { return c.logger }

// DataDir returns (creating if needed) this extension's private data
// directory, <sandbox>/data/<id>/.
func (c *Context) DataDir() (string, error) {
	dir := c.host.DataDir(c.id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir for %s: %w", c.id, err)
	}
	return filepath.Clean(dir), nil
}

// GetConfig reads one key from this extension's config block
// (config/settings.yaml's extensions.<id>.<key>).
func (c *Context) GetConfig(key string) (any, bool) {
	cfg := c.host.ExtensionConfig(c.id)
	v, ok := cfg[key]
	return v, ok
}

// GetSecret resolves a named secret via the host's secret store.
func (c *Context) GetSecret(ctx context.Context, id string) (string, error) {
	return c.host.GetSecret(ctx, id)
}

// Emit durably publishes an event to the bus.
func (c *Context) Emit(ctx context.Context, topic string, payload interface{}) (string, error) {
	return c.host.Emit(ctx, topic, payload)
}

// SubscribeEvent registers a handler for topic, scoped to this
// extension's lifetime (Unsubscribe drops everything this extension
// registered when the loader stops it).
func (c *Context) SubscribeEvent(topic string, handler func(ctx context.Context, topic string, payload []byte) error) {
	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, topic)
	c.mu.Unlock()
	c.host.Subscribe(topic, handler)
}

// UnsubscribeAll drops every subscription this extension registered.
// Called by the loader during Stop.
func (c *Context) UnsubscribeAll() {
	c.mu.Lock()
	topics := append([]string(nil), c.subscriptions...)
	c.subscriptions = nil
	c.mu.Unlock()
	for _, t := range topics {
		c.host.Unsubscribe(t)
	}
}

// InvokeAgent runs one non-streaming agent turn through the message
// router and returns the final reply text.
func (c *Context) InvokeAgent(ctx context.Context, agentID, sessionID, input string) (string, error) {
	return c.host.InvokeAgent(ctx, agentID, sessionID, input)
}

// InvokeAgentStreamed runs one agent turn delivering incremental
// chunks via onChunk as they are produced.
func (c *Context) InvokeAgentStreamed(ctx context.Context, agentID, sessionID, input string, onChunk func(chunk string, final bool) error) error {
	return c.host.InvokeAgentStreamed(ctx, agentID, sessionID, input, onChunk)
}

// NotifyUser asks the router to deliver message to sessionID via
// whichever channel extension owns that session.
func (c *Context) NotifyUser(ctx context.Context, sessionID, message string) error {
	return c.host.NotifyUser(ctx, sessionID, message)
}

// RequestRestart asks the supervisor to restart the whole agent
// process (e.g. after an extension was just installed).
func (c *Context) RequestRestart(reason string) { c.host.RequestRestart(reason) }

// RequestShutdown asks the supervisor to stop the agent process and
// not restart it.
func (c *Context) RequestShutdown(reason string) { c.host.RequestShutdown(reason) }

// GetExtension returns another extension's Instance, enforcing that
// id is listed in this extension's depends_on.
func (c *Context) GetExtension(id string) (Instance, error) {
	if !c.dependsOn[id] {
		return nil, kernelerrors.DependencyMissing(fmt.Sprintf("%s did not declare depends_on %s", c.id, id))
	}
	inst, ok := c.host.InstanceOf(id)
	if !ok {
		return nil, kernelerrors.DependencyMissing(fmt.Sprintf("dependency %s not available", id))
	}
	return inst, nil
}
