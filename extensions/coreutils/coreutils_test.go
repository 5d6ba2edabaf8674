package coreutils

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

func TestProvider_Setup_DefaultTools(t *testing.T) {
	host := &fakeHost{config: map[string]map[string]any{"coreutils": {}}}
	ectx := extension.NewContext("coreutils", nil, host)

	p := &Provider{}
	if err := p.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	names := map[string]bool{}
	for _, def := range p.Tools() {
		names[def.Name] = true
	}
	for _, want := range defaultToolNames {
		if !names[want] {
			t.Errorf("default tool %q missing from Tools()", want)
		}
	}
}

func TestProvider_Setup_ConfiguredSubset(t *testing.T) {
	host := &fakeHost{config: map[string]map[string]any{
		"coreutils": {"tools": []interface{}{"time"}},
	}}
	ectx := extension.NewContext("coreutils", nil, host)

	p := &Provider{}
	if err := p.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	defs := p.Tools()
	if len(defs) != 1 || defs[0].Name != "time" {
		t.Fatalf("Tools() = %+v, want exactly [time]", defs)
	}
}

func TestProvider_Setup_ConfiguredSubsetDoesNotMutateDefaults(t *testing.T) {
	before := append([]string(nil), defaultToolNames...)

	host := &fakeHost{config: map[string]map[string]any{
		"coreutils": {"tools": []interface{}{"time"}},
	}}
	ectx := extension.NewContext("coreutils", nil, host)
	p := &Provider{}
	if err := p.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	for i, want := range before {
		if defaultToolNames[i] != want {
			t.Fatalf("defaultToolNames mutated by a configured Setup call: got %v, want %v", defaultToolNames, before)
		}
	}
}

func TestProvider_InvokeTool_UnknownToolErrors(t *testing.T) {
	host := &fakeHost{config: map[string]map[string]any{"coreutils": {}}}
	ectx := extension.NewContext("coreutils", nil, host)

	p := &Provider{}
	if err := p.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if _, err := p.InvokeTool(context.Background(), "does_not_exist", nil); err == nil {
		t.Fatal("expected error invoking unregistered tool, got nil")
	}
}
