// Package coretools implements the small set of agent-facing tools
// created against kernel objects rather than external services:
// channel introspection, task-engine control, and secure input
// requests. Adapted from the teacher's internal/tool registry idiom
// (internal/tool/builtin) and internal/orchestrator/task's tool
// surface.
package coretools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/sorrel-ai/hearth/internal/eventbus"
	hearthErrors "github.com/sorrel-ai/hearth/internal/errors"
	"github.com/sorrel-ai/hearth/internal/router"
)

// ChannelRegistry is the subset of channel bookkeeping core tools
// need: the set of known channel ids and a human description of each.
type ChannelRegistry struct {
	mu          sync.RWMutex
	descriptions map[string]string
}

func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{descriptions: make(map[string]string)}
}

func (r *ChannelRegistry) Register(channelID, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptions[channelID] = description
}

func (r *ChannelRegistry) Has(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptions[channelID]
	return ok
}

type channelInfo struct {
	ChannelID   string `json:"channel_id"`
	Description string `json:"description"`
}

// ListChannelsTool implements list_channels().
type ListChannelsTool struct {
	registry *ChannelRegistry
}

func NewListChannelsTool(registry *ChannelRegistry) *ListChannelsTool {
	return &ListChannelsTool{registry: registry}
}

func (t *ListChannelsTool) Name() string        { return "list_channels" }
func (t *ListChannelsTool) Description() string { return "List the channel extensions the router can deliver messages through." }
func (t *ListChannelsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *ListChannelsTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	t.registry.mu.RLock()
	defer t.registry.mu.RUnlock()

	ids := make([]string, 0, len(t.registry.descriptions))
	for id := range t.registry.descriptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	infos := make([]channelInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, channelInfo{ChannelID: id, Description: t.registry.descriptions[id]})
	}
	return json.Marshal(infos)
}

type sendToChannelInput struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

type sendToChannelOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SendToChannelTool implements send_to_channel(channel_id, text).
type SendToChannelTool struct {
	registry *ChannelRegistry
	msgs     *router.Router
}

func NewSendToChannelTool(registry *ChannelRegistry, msgs *router.Router) *SendToChannelTool {
	return &SendToChannelTool{registry: registry, msgs: msgs}
}

func (t *SendToChannelTool) Name() string        { return "send_to_channel" }
func (t *SendToChannelTool) Description() string { return "Send text to a registered channel for the current session." }
func (t *SendToChannelTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"channel_id": map[string]interface{}{"type": "string"},
			"text":       map[string]interface{}{"type": "string"},
		},
		"required": []string{"channel_id", "text"},
	}
}

func (t *SendToChannelTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in sendToChannelInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, hearthErrors.InvalidInput(fmt.Sprintf("send_to_channel: %v", err))
	}
	if !t.registry.Has(in.ChannelID) {
		return json.Marshal(sendToChannelOutput{Success: false, Error: fmt.Sprintf("unknown channel %q", in.ChannelID)})
	}

	sessionID := sessionIDFromContext(ctx)
	if err := t.msgs.NotifyUser(ctx, sessionID, in.Text); err != nil {
		return json.Marshal(sendToChannelOutput{Success: false, Error: err.Error()})
	}
	return json.Marshal(sendToChannelOutput{Success: true})
}

// sessionIDContextKey carries the current session id through a tool
// invocation so kernel tools can address notify_user without the
// caller threading a parameter explicitly.
type sessionIDContextKey struct{}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, sessionID)
}

func sessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDContextKey{}).(string)
	return v
}

var secureSecretIDPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

type requestSecureInputInput struct {
	SecretID string `json:"secret_id"`
	Prompt   string `json:"prompt"`
}

type requestSecureInputOutput struct {
	Requested bool `json:"requested"`
}

// RequestSecureInputTool implements request_secure_input(secret_id,
// prompt): it publishes a request event and never returns the secret
// value itself.
type RequestSecureInputTool struct {
	bus *eventbus.Bus
}

func NewRequestSecureInputTool(bus *eventbus.Bus) *RequestSecureInputTool {
	return &RequestSecureInputTool{bus: bus}
}

func (t *RequestSecureInputTool) Name() string { return "request_secure_input" }
func (t *RequestSecureInputTool) Description() string {
	return "Ask the user, via their channel, to supply a secret value out-of-band."
}
func (t *RequestSecureInputTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"secret_id": map[string]interface{}{"type": "string"},
			"prompt":    map[string]interface{}{"type": "string"},
		},
		"required": []string{"secret_id", "prompt"},
	}
}

func (t *RequestSecureInputTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in requestSecureInputInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, hearthErrors.InvalidInput(fmt.Sprintf("request_secure_input: %v", err))
	}
	if !secureSecretIDPattern.MatchString(in.SecretID) {
		return nil, hearthErrors.InvalidInput(fmt.Sprintf("secret_id %q does not match %s", in.SecretID, secureSecretIDPattern.String()))
	}

	sessionID := sessionIDFromContext(ctx)
	_, err := t.bus.Publish(ctx, "system.channel.secure_input_request", map[string]string{
		"secret_id":  in.SecretID,
		"prompt":     in.Prompt,
		"session_id": sessionID,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(requestSecureInputOutput{Requested: true})
}
