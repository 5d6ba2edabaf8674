// Package kernelhost wires the extension.Host contract to the concrete
// event bus, message router, and secret store, so every extension's
// Context reaches the same kernel machinery regardless of which
// capability interfaces it implements.
package kernelhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	hearthErrors "github.com/sorrel-ai/hearth/internal/errors"
	"github.com/sorrel-ai/hearth/internal/eventbus"
	"github.com/sorrel-ai/hearth/internal/extension"
	"github.com/sorrel-ai/hearth/internal/router"

	"github.com/natefinch/atomic"
)

// secureInputResponseTopic is where a channel extension publishes the
// out-of-band value a user supplied in reply to a
// system.channel.secure_input_request event.
const secureInputResponseTopic = "system.channel.secure_input_response"

// SupervisorNotifier lets the host ask the supervisor process to
// restart or stop the agent process, satisfied by internal/supervisor.
type SupervisorNotifier interface {
	RequestRestart(reason string)
	RequestShutdown(reason string)
}

type noopNotifier struct{}

func (noopNotifier) RequestRestart(string)  {}
func (noopNotifier) RequestShutdown(string) {}

// Host implements extension.Host over a concrete Bus + Router + loader
// instance lookup + on-disk secret store.
type Host struct {
	bus        *eventbus.Bus
	msgRouter  *router.Router
	loader     *extension.Loader
	supervisor SupervisorNotifier

	dataRoot     string
	secretsPath  string
	extensionCfg map[string]map[string]any

	mu      sync.Mutex
	secrets map[string]string
}

// New builds a Host. dataRoot is the sandbox's data/ directory
// (<sandbox>/data/<id>/ per extension); secretsPath is a JSON file
// used as the last-resort secret store when HEARTH_SECRET_<ID> is
// unset.
func New(bus *eventbus.Bus, msgRouter *router.Router, loader *extension.Loader, supervisor SupervisorNotifier, dataRoot, secretsPath string, extensionCfg map[string]map[string]any) *Host {
	if supervisor == nil {
		supervisor = noopNotifier{}
	}
	h := &Host{
		bus:          bus,
		msgRouter:    msgRouter,
		loader:       loader,
		supervisor:   supervisor,
		dataRoot:     dataRoot,
		secretsPath:  secretsPath,
		extensionCfg: extensionCfg,
	}
	if bus != nil {
		bus.Subscribe(secureInputResponseTopic, h.handleSecureInputResponse)
	}
	return h
}

type secureInputResponse struct {
	SecretID string `json:"secret_id"`
	Value    string `json:"value"`
}

// handleSecureInputResponse persists a secret a user supplied in reply
// to request_secure_input, completing the round trip that tool only
// starts.
func (h *Host) handleSecureInputResponse(ctx context.Context, evt eventbus.Event) error {
	var resp secureInputResponse
	if err := json.Unmarshal(evt.Payload, &resp); err != nil {
		return hearthErrors.InvalidInput(fmt.Sprintf("secure input response payload: %v", err))
	}
	if resp.SecretID == "" {
		return hearthErrors.InvalidInput("secure input response missing secret_id")
	}
	return h.SetSecret(resp.SecretID, resp.Value)
}

// SetSecret persists a secret value to the on-disk store, overwriting
// the prior value for id if any. The write is atomic so a crash
// mid-write never leaves the store truncated or corrupt.
func (h *Host) SetSecret(id, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.secrets == nil {
		if err := h.loadSecrets(); err != nil {
			return err
		}
	}
	h.secrets[id] = value

	if h.secretsPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(h.secrets, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.secretsPath), 0o755); err != nil {
		return fmt.Errorf("create secrets dir: %w", err)
	}
	return atomic.WriteFile(h.secretsPath, bytes.NewReader(data))
}

func (h *Host) Emit(ctx context.Context, topic string, payload interface{}) (string, error) {
	return h.bus.Publish(ctx, topic, payload)
}

func (h *Host) Subscribe(topic string, handler func(ctx context.Context, topic string, payload []byte) error) {
	h.bus.Subscribe(topic, func(ctx context.Context, evt eventbus.Event) error {
		return handler(ctx, evt.Topic, evt.Payload)
	})
}

func (h *Host) Unsubscribe(topic string) {
	h.bus.Unsubscribe(topic)
}

func (h *Host) InvokeAgent(ctx context.Context, agentID, sessionID, input string) (string, error) {
	return h.msgRouter.InvokeAgent(ctx, agentID, sessionID, input)
}

func (h *Host) InvokeAgentStreamed(ctx context.Context, agentID, sessionID, input string, onChunk func(chunk string, final bool) error) error {
	return h.msgRouter.InvokeAgentStreamed(ctx, agentID, sessionID, input, onChunk)
}

func (h *Host) NotifyUser(ctx context.Context, sessionID, message string) error {
	return h.msgRouter.NotifyUser(ctx, sessionID, message)
}

func (h *Host) RequestRestart(reason string)  { h.supervisor.RequestRestart(reason) }
func (h *Host) RequestShutdown(reason string) { h.supervisor.RequestShutdown(reason) }

func (h *Host) ExtensionConfig(id string) map[string]any {
	if cfg, ok := h.extensionCfg[id]; ok {
		return cfg
	}
	return map[string]any{}
}

func (h *Host) DataDir(id string) string {
	return filepath.Join(h.dataRoot, id)
}

func (h *Host) InstanceOf(id string) (extension.Instance, bool) {
	return h.loader.Instance(id)
}

// GetSecret resolves id from the environment first
// (HEARTH_SECRET_<UPPER_ID>), then from the on-disk secrets file.
func (h *Host) GetSecret(ctx context.Context, id string) (string, error) {
	envKey := "HEARTH_SECRET_" + strings.ToUpper(id)
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.secrets == nil {
		if err := h.loadSecrets(); err != nil {
			return "", err
		}
	}
	v, ok := h.secrets[id]
	if !ok {
		return "", hearthErrors.NotFound(fmt.Sprintf("secret %q not found", id))
	}
	return v, nil
}

func (h *Host) loadSecrets() error {
	h.secrets = map[string]string{}
	if h.secretsPath == "" {
		return nil
	}
	data, err := os.ReadFile(h.secretsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read secrets file: %w", err)
	}
	return json.Unmarshal(data, &h.secrets)
}

var _ extension.Host = (*Host)(nil)
