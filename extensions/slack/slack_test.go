package slack

import (
	"context"
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
	return "", nil
}
func (f *fakeHost) InvokeAgentStreamed(ctx context.Context, agentID, sessionID, input string, onChunk func(chunk string, final bool) error) error {
	return nil
}
func (f *fakeHost) NotifyUser(ctx context.Context, sessionID, message string) error { return nil }
func (f *fakeHost) RequestRestart(reason string)                                   {}
func (f *fakeHost) RequestShutdown(reason string)                                  {}
func (f *fakeHost) GetSecret(ctx context.Context, id string) (string, error)       { return "", nil }
func (f *fakeHost) ExtensionConfig(id string) map[string]any                       { return f.config[id] }
func (f *fakeHost) DataDir(id string) string                                       { return "" }
func (f *fakeHost) InstanceOf(id string) (extension.Instance, bool)                { return nil, false }

func TestChannel_Setup_Defaults(t *testing.T) {
	host := &fakeHost{config: map[string]map[string]any{}}
	ectx := extension.NewContext("slack", nil, host)

	c := &Channel{}
	if err := c.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if c.agentID != "default" {
		t.Fatalf("agentID = %q, want default", c.agentID)
	}
	if c.port != defaultPort {
		t.Fatalf("port = %d, want %d", c.port, defaultPort)
	}
}

func TestChannel_Setup_ConfiguredAgentIDAndPort(t *testing.T) {
	host := &fakeHost{config: map[string]map[string]any{"slack": {"agent_id": "support-bot", "port": 9001}}}
	ectx := extension.NewContext("slack", nil, host)

	c := &Channel{}
	if err := c.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if c.agentID != "support-bot" {
		t.Fatalf("agentID = %q, want support-bot", c.agentID)
	}
	if c.port != 9001 {
		t.Fatalf("port = %d, want 9001", c.port)
	}
}

func TestChannel_SendToUser_NotStarted(t *testing.T) {
	c := &Channel{}
	if err := c.SendToUser(context.Background(), "C12345", "hi"); err == nil {
		t.Fatal("expected error sending before Start, got nil")
	}
}

func TestChannel_SendChunk_EmptyNonFinalIsNoop(t *testing.T) {
	c := &Channel{}
	if err := c.SendChunk(context.Background(), "C12345", "", false); err != nil {
		t.Fatalf("expected empty non-final chunk to be a no-op, got error: %v", err)
	}
}

func TestChannel_Health_NotStarted(t *testing.T) {
	c := &Channel{}
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected Health error before Start, got nil")
	}
}
