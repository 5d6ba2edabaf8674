package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/sorrel-ai/hearth/internal/extension"
)

type fakeHost struct {
	config map[string]map[string]any
}

func (f *fakeHost) Emit(ctx context.Context, topic string, payload interface{}) (string, error) {
	return "evt-1", nil
}
func (f *fakeHost) Subscribe(topic string, handler func(ctx context.Context, topic string, payload []byte) error) {
}
func (f *fakeHost) Unsubscribe(topic string) {}
func (f *fakeHost) InvokeAgent(ctx context.Context, agentID, sessionID, input string) (string, error) {
	return "reply to: " + input, nil
}
func (f *fakeHost) InvokeAgentStreamed(ctx context.Context, agentID, sessionID, input string, onChunk func(chunk string, final bool) error) error {
	return onChunk(input, true)
}
func (f *fakeHost) NotifyUser(ctx context.Context, sessionID, message string) error { return nil }
func (f *fakeHost) RequestRestart(reason string)                                   {}
func (f *fakeHost) RequestShutdown(reason string)                                  {}
func (f *fakeHost) GetSecret(ctx context.Context, id string) (string, error)       { return "secret", nil }
func (f *fakeHost) ExtensionConfig(id string) map[string]any                       { return f.config[id] }
func (f *fakeHost) DataDir(id string) string                                       { return "" }
func (f *fakeHost) InstanceOf(id string) (extension.Instance, bool)                { return nil, false }

func TestChannel_Setup_DefaultAgentID(t *testing.T) {
	host := &fakeHost{config: map[string]map[string]any{"cli": {}}}
	ectx := extension.NewContext("cli", nil, host)

	ch := &Channel{}
	if err := ch.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if ch.agentID != "default" {
		t.Fatalf("agentID = %q, want default", ch.agentID)
	}
	if !strings.HasPrefix(ch.sessionID, "cli-") {
		t.Fatalf("sessionID = %q, want cli- prefix", ch.sessionID)
	}
}

func TestChannel_Setup_ConfiguredAgentID(t *testing.T) {
	host := &fakeHost{config: map[string]map[string]any{"cli": {"agent_id": "assistant-2"}}}
	ectx := extension.NewContext("cli", nil, host)

	ch := &Channel{}
	if err := ch.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if ch.agentID != "assistant-2" {
		t.Fatalf("agentID = %q, want assistant-2", ch.agentID)
	}
}
