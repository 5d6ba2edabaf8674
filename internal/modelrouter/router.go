// Package modelrouter generalizes the teacher's internal/model router
// (keyed by model name) so completion requests are routed by agent_id
// instead: each agent_id resolves to {provider, model, temperature,
// max_tokens} before falling through to the underlying model router.
package modelrouter

import (
	"context"
	"fmt"
	"sync"

	"github.com/sorrel-ai/hearth/internal/config"
	hearthErrors "github.com/sorrel-ai/hearth/internal/errors"
	"github.com/sorrel-ai/hearth/internal/model"
	"github.com/sorrel-ai/hearth/internal/model/contract"
)

// AgentBinding is the resolved routing target for one agent_id.
type AgentBinding struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Fallback     string
}

// Router routes completion requests by agent_id, falling through to
// the teacher's model.DefaultModelRouter for the actual provider call.
type Router struct {
	inner *model.DefaultModelRouter

	mu       sync.RWMutex
	bindings map[string]AgentBinding
}

// New builds a Router over cfg.Models (provider registry, unchanged
// from the teacher) seeded with cfg.Agents.Registry bindings.
func New(cfg config.Config) (*Router, error) {
	inner, err := model.NewModelRouter(cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("init model router: %w", err)
	}

	r := &Router{inner: inner, bindings: make(map[string]AgentBinding)}
	for _, a := range cfg.Agents.Registry {
		r.Register(a.ID, AgentBinding{
			Model:        a.Model,
			SystemPrompt: a.SystemPrompt,
			Temperature:  a.Temperature,
			MaxTokens:    a.MaxTokens,
			Fallback:     a.Fallback,
		})
	}
	return r, nil
}

// Register binds (or rebinds) agent_id to a model/config target. New
// calls it for each config-file binding; extensions' manifest `agent`
// blocks are not registered here.
func (r *Router) Register(agentID string, binding AgentBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[agentID] = binding
}

func (r *Router) resolve(agentID string) (AgentBinding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[agentID]
	if !ok {
		return AgentBinding{}, hearthErrors.NotFound(fmt.Sprintf("agent %q is not registered", agentID))
	}
	return b, nil
}

// Route completes req on behalf of agentID, prepending the agent's
// system prompt when req carries no system message, then delegating to
// the teacher's model router (which still owns provider selection and
// fallback-chain execution). The binding's Temperature and MaxTokens
// are not applied to the request.
func (r *Router) Route(ctx context.Context, agentID string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	binding, err := r.resolve(agentID)
	if err != nil {
		return nil, err
	}

	if binding.SystemPrompt != "" && !hasSystemMessage(req.Messages) {
		req.Messages = append([]contract.Message{{Role: "system", Content: binding.SystemPrompt}}, req.Messages...)
	}

	resp, err := r.inner.Route(ctx, binding.Model, req)
	if err == nil || binding.Fallback == "" {
		return resp, err
	}

	return r.inner.Route(ctx, binding.Fallback, req)
}

// RouteEmbedding proxies straight to the inner router using the
// configured embedding model; agent_id routing does not apply to
// embeddings, which are a shared kernel-level facility.
func (r *Router) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	return r.inner.RouteEmbedding(ctx, model, text)
}

func hasSystemMessage(msgs []contract.Message) bool {
	for _, m := range msgs {
		if m.Role == "system" {
			return true
		}
	}
	return false
}

// Agents returns the currently registered agent ids.
func (r *Router) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.bindings))
	for id := range r.bindings {
		ids = append(ids, id)
	}
	return ids
}
