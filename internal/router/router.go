// Package router implements the message router (C5): it owns session
// state behind a single mutex, adapted from the teacher's internal/orchestrator/kernel.go
// (DefaultKernel.Execute) and internal/orchestrator/session rotation
// logic, generalized from one fixed orchestrator to many agent_id-
// addressed agents fed by dynamically loaded channel extensions.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sorrel-ai/hearth/internal/extension"
	hearthErrors "github.com/sorrel-ai/hearth/internal/errors"
	"github.com/sorrel-ai/hearth/internal/model/contract"
	"github.com/sorrel-ai/hearth/internal/modelrouter"
)

// ModelRouter is the subset of modelrouter.Router the message router
// depends on, narrowed for testability.
type ModelRouter interface {
	Route(ctx context.Context, agentID string, req contract.CompletionRequest) (*contract.CompletionResponse, error)
}

var _ ModelRouter = (*modelrouter.Router)(nil)

type sessionState struct {
	agentID    string
	channelID  string
	lastActive time.Time
	history    []contract.Message
}

// Router owns session -> agent/channel binding plus inactivity-based
// rotation. Its mutex guards session and channel state only; model
// calls are made outside it, so agent invocations are not serialized
// and may run concurrently, including two for the same session.
type Router struct {
	mu sync.Mutex

	models   ModelRouter
	channels map[string]extension.ChannelProvider
	sessions map[string]*sessionState

	defaultAgent   string
	sessionTimeout time.Duration
	historyLimit   int
}

// New builds a Router. sessionTimeout is the inactivity window after
// which HandleUserMessage starts a fresh session for that channel
// instead of continuing the old one (spec's resolved Open Question:
// inactivity-timeout is the canonical rotation trigger, no per-topic
// FIFO guarantee).
func New(models ModelRouter, defaultAgent string, sessionTimeout time.Duration) *Router {
	if sessionTimeout <= 0 {
		sessionTimeout = 15 * time.Minute
	}
	return &Router{
		models:         models,
		channels:       make(map[string]extension.ChannelProvider),
		sessions:       make(map[string]*sessionState),
		defaultAgent:   defaultAgent,
		sessionTimeout: sessionTimeout,
		historyLimit:   20,
	}
}

// RegisterChannel wires a discovered ChannelProvider under channelID
// so NotifyUser and reply delivery can reach it.
func (r *Router) RegisterChannel(channelID string, ch extension.ChannelProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channelID] = ch
}

// SetAgent binds sessionID to agentID for subsequent turns.
func (r *Router) SetAgent(sessionID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.sessionLocked(sessionID, "")
	st.agentID = agentID
}

func (r *Router) sessionLocked(sessionID, channelID string) *sessionState {
	st, ok := r.sessions[sessionID]
	now := time.Now()
	if ok && now.Sub(st.lastActive) > r.sessionTimeout {
		// Rotation: drop history, keep the id so callers that already
		// hold sessionID keep addressing the same logical thread.
		st = &sessionState{agentID: st.agentID, channelID: st.channelID}
		r.sessions[sessionID] = st
	}
	if !ok {
		st = &sessionState{agentID: r.defaultAgent, channelID: channelID}
		r.sessions[sessionID] = st
	}
	if channelID != "" {
		st.channelID = channelID
	}
	st.lastActive = now
	return st
}

// HandleUserMessage is the reactive entry point: a channel extension
// delivers one inbound user message, the router resolves/rotates the
// session, invokes the bound agent, and delivers the reply back
// through the same channel.
func (r *Router) HandleUserMessage(ctx context.Context, channelID, sessionID, text string) error {
	r.mu.Lock()
	st := r.sessionLocked(sessionID, channelID)
	agentID := st.agentID
	st.history = appendBounded(st.history, contract.Message{Role: "user", Content: text}, r.historyLimit)
	history := append([]contract.Message(nil), st.history...)
	r.mu.Unlock()

	resp, err := r.models.Route(ctx, agentID, contract.CompletionRequest{Messages: history})
	if err != nil {
		return hearthErrors.Wrap(err, fmt.Sprintf("agent %s invocation failed", agentID))
	}

	r.mu.Lock()
	st.history = appendBounded(st.history, contract.Message{Role: "assistant", Content: resp.Content}, r.historyLimit)
	r.mu.Unlock()

	return r.deliver(ctx, channelID, sessionID, resp.Content)
}

// InvokeAgent runs one non-streaming turn for agentID without going
// through a registered channel, returning the reply text directly.
// Used by extension Context.InvokeAgent.
func (r *Router) InvokeAgent(ctx context.Context, agentID, sessionID, input string) (string, error) {
	r.mu.Lock()
	st := r.sessionLocked(sessionID, "")
	st.agentID = agentID
	st.history = appendBounded(st.history, contract.Message{Role: "user", Content: input}, r.historyLimit)
	history := append([]contract.Message(nil), st.history...)
	r.mu.Unlock()

	resp, err := r.models.Route(ctx, agentID, contract.CompletionRequest{Messages: history})
	if err != nil {
		return "", hearthErrors.Wrap(err, fmt.Sprintf("agent %s invocation failed", agentID))
	}

	r.mu.Lock()
	st.history = appendBounded(st.history, contract.Message{Role: "assistant", Content: resp.Content}, r.historyLimit)
	r.mu.Unlock()

	return resp.Content, nil
}

// InvokeAgentStreamed runs one turn for agentID, delivering the full
// reply as a single terminal chunk. The underlying teacher model
// providers do not currently expose token-level streaming (ORIGINAL
// §9's "no async iterators for LLM streams" note), so this is
// correctness-equivalent to InvokeAgent with the same chunk contract
// a true streaming provider would use.
func (r *Router) InvokeAgentStreamed(ctx context.Context, agentID, sessionID, input string, onChunk func(chunk string, final bool) error) error {
	reply, err := r.InvokeAgent(ctx, agentID, sessionID, input)
	if err != nil {
		return err
	}
	return onChunk(reply, true)
}

// NotifyUser delivers message to whichever channel owns sessionID.
func (r *Router) NotifyUser(ctx context.Context, sessionID, message string) error {
	r.mu.Lock()
	st, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return hearthErrors.NotFound(fmt.Sprintf("session %s not found", sessionID))
	}
	return r.deliver(ctx, st.channelID, sessionID, message)
}

func (r *Router) deliver(ctx context.Context, channelID, sessionID, message string) error {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	r.mu.Unlock()
	if !ok {
		return hearthErrors.NotFound(fmt.Sprintf("channel %s not registered", channelID))
	}
	return ch.SendToUser(ctx, sessionID, message)
}

func appendBounded(history []contract.Message, msg contract.Message, limit int) []contract.Message {
	history = append(history, msg)
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
