package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/northfield-labs/agentloop/pkg/message"
	"github.com/northfield-labs/agentloop/pkg/provider"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatalf("expected missing credentials error")
	}
}

func TestMapStopReason(t *testing.T) {
	cases := map[string]provider.FinishReason{
		"end_turn":      provider.FinishStop,
		"stop_sequence": provider.FinishStop,
		"max_tokens":    provider.FinishLength,
		"tool_use":      provider.FinishToolCall,
		"":              provider.FinishUnknown,
		"unexpected":    provider.FinishUnknown,
	}

	for wire, want := range cases {
		if got := mapStopReason(wire); got != want {
			t.Errorf("mapStopReason(%q) = %q, want %q", wire, got, want)
		}
	}
}

// TestChatComputesUsageAsSum guards the canonical Usage invariant:
// TotalTokens must be InputTokens+OutputTokens, computed rather than
// trusted verbatim from the wire.
func TestChatComputesUsageAsSum(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg-1",
			"type": "message",
			"role": "assistant",
			"content": [{"type":"text","text":"hi"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer ts.Close()

	client, err := New(Config{APIKey: "test", BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	resp, err := client.Chat(context.Background(), provider.Request{
		Model:           "claude-default",
		Messages:        []message.Message{message.User("hi")},
		MaxOutputTokens: 100,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if resp.Usage.TotalTokens != resp.Usage.InputTokens+resp.Usage.OutputTokens {
		t.Fatalf("expected TotalTokens to equal InputTokens+OutputTokens, got %+v", resp.Usage)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected TotalTokens=15, got %d", resp.Usage.TotalTokens)
	}
}

func TestBuildParamsMovesSystemMessagesToSystemField(t *testing.T) {
	req := provider.Request{
		Model: "claude-default",
		Messages: []message.Message{
			message.System("be concise"),
			message.User("hi"),
		},
		MaxOutputTokens: 100,
	}

	params, err := buildParams(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.System) != 1 || params.System[0].Text != "be concise" {
		t.Fatalf("expected system field to carry the System message, got %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("expected only the user message in Messages, got %d", len(params.Messages))
	}
}

func TestBuildParamsSynthesizesUserMessage(t *testing.T) {
	req := provider.Request{
		Model:           "claude-default",
		Messages:        []message.Message{message.System("be concise")},
		MaxOutputTokens: 100,
	}

	params, err := buildParams(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("expected a synthesized user message, got %d", len(params.Messages))
	}
}
