package coretools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sorrel-ai/hearth/internal/extension"
	"github.com/sorrel-ai/hearth/internal/model/contract"
	"github.com/sorrel-ai/hearth/internal/router"
)

type fakeModelRouter struct{}

func (fakeModelRouter) Route(ctx context.Context, agentID string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	return &contract.CompletionResponse{Content: "ack"}, nil
}

type fakeChannel struct {
	sent []string
}

func (f *fakeChannel) Setup(ctx context.Context, ectx *extension.Context) error { return nil }
func (f *fakeChannel) SendToUser(ctx context.Context, sessionID, message string) error {
	f.sent = append(f.sent, message)
	return nil
}

func TestListChannelsTool_Execute_SortedByID(t *testing.T) {
	registry := NewChannelRegistry()
	registry.Register("telegram", "telegram channel")
	registry.Register("cli", "cli channel")

	tool := NewListChannelsTool(registry)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var infos []channelInfo
	if err := json.Unmarshal(out, &infos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(infos) != 2 || infos[0].ChannelID != "cli" || infos[1].ChannelID != "telegram" {
		t.Fatalf("unexpected order: %+v", infos)
	}
}

func TestSendToChannelTool_Execute_UnknownChannel(t *testing.T) {
	registry := NewChannelRegistry()
	msgs := router.New(fakeModelRouter{}, "default", time.Minute)
	tool := NewSendToChannelTool(registry, msgs)

	input, _ := json.Marshal(sendToChannelInput{ChannelID: "nope", Text: "hi"})
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute returned error instead of a structured failure: %v", err)
	}

	var result sendToChannelOutput
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Success {
		t.Fatal("expected success=false for unregistered channel")
	}
}

func TestSendToChannelTool_Execute_DeliversToActiveSession(t *testing.T) {
	registry := NewChannelRegistry()
	registry.Register("cli", "cli channel")
	msgs := router.New(fakeModelRouter{}, "default", time.Minute)

	ch := &fakeChannel{}
	msgs.RegisterChannel("cli", ch)
	if err := msgs.HandleUserMessage(context.Background(), "cli", "session-1", "hello"); err != nil {
		t.Fatalf("HandleUserMessage failed: %v", err)
	}

	tool := NewSendToChannelTool(registry, msgs)
	ctx := WithSessionID(context.Background(), "session-1")
	input, _ := json.Marshal(sendToChannelInput{ChannelID: "cli", Text: "follow-up"})
	out, err := tool.Execute(ctx, input)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var result sendToChannelOutput
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success=true, got error %q", result.Error)
	}
	// HandleUserMessage's own reply delivery ("ack") lands first; the
	// tool's explicit send_to_channel call appends the follow-up.
	if len(ch.sent) != 2 || ch.sent[1] != "follow-up" {
		t.Fatalf("channel received %v, want last entry to be follow-up", ch.sent)
	}
}

func TestRequestSecureInputTool_Execute_RejectsBadSecretID(t *testing.T) {
	bus := newTestBus(t)
	tool := NewRequestSecureInputTool(bus)

	input, _ := json.Marshal(requestSecureInputInput{SecretID: "not a valid id!", Prompt: "enter your key"})
	if _, err := tool.Execute(context.Background(), input); err == nil {
		t.Fatal("expected error for invalid secret_id, got nil")
	}
}

func TestRequestSecureInputTool_Execute_PublishesRequest(t *testing.T) {
	bus := newTestBus(t)
	tool := NewRequestSecureInputTool(bus)

	input, _ := json.Marshal(requestSecureInputInput{SecretID: "github_token", Prompt: "enter your key"})
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var result requestSecureInputOutput
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !result.Requested {
		t.Fatal("expected requested=true")
	}
}
