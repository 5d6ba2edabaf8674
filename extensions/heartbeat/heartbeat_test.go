package heartbeat

import (
	"context"
	"testing"

	"github.com/sorrel-ai/hearth/internal/extension"
)

type recordingMemory struct {
	remembered []string
}

func (r *recordingMemory) Setup(ctx context.Context, ectx *extension.Context) error { return nil }
func (r *recordingMemory) Remember(ctx context.Context, content string) error {
	r.remembered = append(r.remembered, content)
	return nil
}

type fakeHost struct {
	config    map[string]map[string]any
	emitted   []string
	instances map[string]extension.Instance
}

func (f *fakeHost) Emit(ctx context.Context, topic string, payload interface{}) (string, error) {
	f.emitted = append(f.emitted, topic)
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
func (f *fakeHost) InstanceOf(id string) (extension.Instance, bool) {
	inst, ok := f.instances[id]
	return inst, ok
}

func TestScheduler_OnSchedule_EmitsAndRemembers(t *testing.T) {
	mem := &recordingMemory{}
	host := &fakeHost{
		config:    map[string]map[string]any{"heartbeat": {"message": "still alive"}},
		instances: map[string]extension.Instance{"memory": mem},
	}
	ectx := extension.NewContext("heartbeat", []string{"memory"}, host)

	s := &Scheduler{}
	if err := s.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if err := s.OnSchedule(context.Background(), "tick"); err != nil {
		t.Fatalf("OnSchedule failed: %v", err)
	}

	if len(host.emitted) != 1 || host.emitted[0] != "system.user.notify" {
		t.Fatalf("emitted topics = %v, want [system.user.notify]", host.emitted)
	}
	if len(mem.remembered) != 1 || mem.remembered[0] != "still alive" {
		t.Fatalf("remembered = %v, want [still alive]", mem.remembered)
	}
}

func TestScheduler_OnSchedule_IgnoresUnknownName(t *testing.T) {
	host := &fakeHost{config: map[string]map[string]any{"heartbeat": {}}}
	ectx := extension.NewContext("heartbeat", nil, host)

	s := &Scheduler{}
	if err := s.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := s.OnSchedule(context.Background(), "not-tick"); err != nil {
		t.Fatalf("OnSchedule failed: %v", err)
	}
	if len(host.emitted) != 0 {
		t.Fatalf("expected no emit for unrecognized schedule name, got %v", host.emitted)
	}
}

func TestScheduler_OnSchedule_MissingDependsOnSkipsRememberSilently(t *testing.T) {
	host := &fakeHost{config: map[string]map[string]any{"heartbeat": {}}}
	ectx := extension.NewContext("heartbeat", nil, host) // no depends_on declared

	s := &Scheduler{}
	if err := s.Setup(context.Background(), ectx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := s.OnSchedule(context.Background(), "tick"); err != nil {
		t.Fatalf("OnSchedule should not fail just because memory isn't a declared dependency: %v", err)
	}
}
