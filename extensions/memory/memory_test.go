package memory

import (
	"context"
	"testing"

	"github.com/sorrel-ai/hearth/internal/extension"
)

type fakeHost struct {
	dataDir string
	config  map[string]map[string]any
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
func (f *fakeHost) DataDir(id string) string                                       { return f.dataDir }
func (f *fakeHost) InstanceOf(id string) (extension.Instance, bool)                { return nil, false }

func TestProvider_RememberAndRecall(t *testing.T) {
	host := &fakeHost{dataDir: t.TempDir(), config: map[string]map[string]any{"memory": {}}}
	ectx := extension.NewContext("memory", nil, host)

	p := &Provider{}
	if err := p.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if err := p.Remember(context.Background(), "the user prefers dark mode"); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	out, err := p.RecallContext(context.Background(), "session-1", "what theme does the user prefer")
	if err != nil {
		t.Fatalf("RecallContext failed: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty recall context after remembering a fact")
	}
}

func TestProvider_RecallContext_EmptyWhenNothingRemembered(t *testing.T) {
	host := &fakeHost{dataDir: t.TempDir(), config: map[string]map[string]any{"memory": {}}}
	ectx := extension.NewContext("memory", nil, host)

	p := &Provider{}
	if err := p.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	out, err := p.RecallContext(context.Background(), "session-1", "anything")
	if err != nil {
		t.Fatalf("RecallContext failed: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty recall with nothing remembered, got %q", out)
	}
}

func TestProvider_Setup_ConfiguredCollectionName(t *testing.T) {
	host := &fakeHost{dataDir: t.TempDir(), config: map[string]map[string]any{
		"memory": {"collection": "notes", "recall_limit": 2},
	}}
	ectx := extension.NewContext("memory", nil, host)

	p := &Provider{}
	if err := p.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if p.collection != "notes" {
		t.Fatalf("collection = %q, want notes", p.collection)
	}
	if p.recallLimit != 2 {
		t.Fatalf("recallLimit = %d, want 2", p.recallLimit)
	}
}
