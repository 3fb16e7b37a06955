package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/northfield-labs/agentloop/pkg/budget"
	"github.com/northfield-labs/agentloop/pkg/message"
	"github.com/northfield-labs/agentloop/pkg/policy"
	"github.com/northfield-labs/agentloop/pkg/provider"
	"github.com/northfield-labs/agentloop/pkg/tool"
	"github.com/northfield-labs/agentloop/pkg/tool/fsops"
)

// scriptedClient replays a fixed sequence of responses, one per Chat call.
type scriptedClient struct {
	responses []provider.Response
	calls     int
}

func (s *scriptedClient) Chat(ctx context.Context, req provider.Request) (provider.Response, error) {
	if s.calls >= len(s.responses) {
		panic("scriptedClient: ran out of scripted responses")
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

func toolCall(id, name, argsJSON string) message.ToolCall {
	return message.ToolCall{ID: id, Name: name, ArgumentsJSON: argsJSON}
}

func testSetup(t *testing.T) (*tool.Registry, *tool.Environment, string) {
	t.Helper()

	root := t.TempDir()
	for _, dir := range []string{"notes", "data/outputs"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "notes", "test.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := &tool.Environment{Root: root, Purpose: policy.PurposeDefault, Policy: policy.New(root, nil)}
	registry := tool.NewRegistry(fsops.Tools()...)

	return registry, env, root
}

func alwaysApprove(ctx context.Context, call message.ToolCall) (bool, error) {
	return true, nil
}

// TestListReadSummarize exercises §8 scenario 1.
func TestListReadSummarize(t *testing.T) {
	registry, env, _ := testSetup(t)

	usage := provider.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}

	client := &scriptedClient{responses: []provider.Response{
		{
			Provider: "mock", Model: "mock-model",
			Message: message.Assistant("", []message.ToolCall{toolCall("1", "list_dir", `{"path":"notes"}`)}),
			Usage:   usage, FinishReason: provider.FinishToolCall,
		},
		{
			Provider: "mock", Model: "mock-model",
			Message: message.Assistant("", []message.ToolCall{toolCall("2", "read_file", `{"path":"notes/test.txt"}`)}),
			Usage:   usage, FinishReason: provider.FinishToolCall,
		},
		{
			Provider: "mock", Model: "mock-model",
			Message: message.Assistant("Summary: hello world.", nil),
			Usage:   usage, FinishReason: provider.FinishStop,
		},
	}}

	router := provider.NewRouter()
	router.Register("mock", client, "mock-model")

	result, err := Run(context.Background(), router, registry, env, nil, alwaysApprove, Request{
		Provider: "mock",
		Messages: []message.Message{message.User("Please list notes, then read notes/test.txt and summarize.")},
		Limits:   budget.Limits{MaxSteps: 10, MaxToolCalls: 10},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if client.calls != 3 {
		t.Fatalf("expected 3 model calls, got %d", client.calls)
	}
	if result.Final.FinishReason != provider.FinishStop {
		t.Fatalf("expected final finish reason stop, got %q", result.Final.FinishReason)
	}
	if result.UsageTotal.TotalTokens != 45 {
		t.Fatalf("expected summed usage of 45, got %d", result.UsageTotal.TotalTokens)
	}

	toolMessages := 0
	for _, m := range result.Messages {
		if m.Role == message.RoleTool {
			toolMessages++
		}
	}
	if toolMessages != 2 {
		t.Fatalf("expected 2 tool result messages, got %d", toolMessages)
	}
}

// TestDeniedWrite exercises §8 scenario 2: a policy rejection (not an
// approval denial) produces {ok:false} and creates no file.
func TestDeniedWrite(t *testing.T) {
	registry, env, root := testSetup(t)

	client := &scriptedClient{responses: []provider.Response{
		{
			Provider: "mock", Model: "mock-model",
			Message:      message.Assistant("", []message.ToolCall{toolCall("1", "write_file", `{"path":"notes/should-fail.txt","content":"nope"}`)}),
			FinishReason: provider.FinishToolCall,
		},
		{
			Provider: "mock", Model: "mock-model",
			Message:      message.Assistant("done", nil),
			FinishReason: provider.FinishStop,
		},
	}}

	router := provider.NewRouter()
	router.Register("mock", client, "mock-model")

	result, err := Run(context.Background(), router, registry, env, nil, alwaysApprove, Request{
		Provider: "mock",
		Messages: []message.Message{message.User("write a file outside outputs")},
		Limits:   budget.Limits{MaxSteps: 10, MaxToolCalls: 10},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "notes", "should-fail.txt")); err == nil {
		t.Fatalf("expected no file to be created")
	}

	found := false
	for _, m := range result.Messages {
		if m.Role == message.RoleTool && m.ToolCallID == "1" {
			found = true
			if !contains(m.Content, `"ok":false`) {
				t.Fatalf("expected ok:false in tool message, got %s", m.Content)
			}
		}
	}
	if !found {
		t.Fatalf("expected a tool message bound to call 1")
	}
}

// TestBudgetHalt exercises §8 scenario 4: maxSteps=2 with tool calls on
// every turn yields two successful model calls and the scheduler
// returns the last response rather than failing.
func TestBudgetHalt(t *testing.T) {
	registry, env, _ := testSetup(t)

	client := &scriptedClient{responses: []provider.Response{
		{
			Provider: "mock", Model: "mock-model",
			Message:      message.Assistant("", []message.ToolCall{toolCall("1", "list_dir", `{"path":"notes"}`)}),
			FinishReason: provider.FinishToolCall,
		},
		{
			Provider: "mock", Model: "mock-model",
			Message:      message.Assistant("", []message.ToolCall{toolCall("2", "list_dir", `{"path":"notes"}`)}),
			FinishReason: provider.FinishToolCall,
		},
	}}

	router := provider.NewRouter()
	router.Register("mock", client, "mock-model")

	result, err := Run(context.Background(), router, registry, env, nil, alwaysApprove, Request{
		Provider: "mock",
		Messages: []message.Message{message.User("keep listing forever")},
		Limits:   budget.Limits{MaxSteps: 2, MaxToolCalls: 10},
	})
	if err != nil {
		t.Fatalf("expected the scheduler to return the last response, got error: %v", err)
	}

	if client.calls != 2 {
		t.Fatalf("expected exactly 2 model calls, got %d", client.calls)
	}
	if result.Final.Model != "mock-model" {
		t.Fatalf("expected the last response to be returned")
	}
}

// TestApprovalDenial exercises §8 scenario 5: a denied write does not
// short-circuit the sibling read_file call in the same turn.
func TestApprovalDenial(t *testing.T) {
	registry, env, root := testSetup(t)

	if err := os.WriteFile(filepath.Join(root, "data", "outputs", "x.txt"), []byte("A"), 0o644); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	client := &scriptedClient{responses: []provider.Response{
		{
			Provider: "mock", Model: "mock-model",
			Message: message.Assistant("", []message.ToolCall{
				toolCall("1", "write_file", `{"path":"data/outputs/x.txt","content":"B","overwrite":true}`),
				toolCall("2", "read_file", `{"path":"notes/test.txt"}`),
			}),
			FinishReason: provider.FinishToolCall,
		},
		{
			Provider: "mock", Model: "mock-model",
			Message:      message.Assistant("done", nil),
			FinishReason: provider.FinishStop,
		},
	}}

	router := provider.NewRouter()
	router.Register("mock", client, "mock-model")

	denyWrite := func(ctx context.Context, call message.ToolCall) (bool, error) {
		return call.Name != "write_file", nil
	}

	result, err := Run(context.Background(), router, registry, env, nil, denyWrite, Request{
		Provider: "mock",
		Messages: []message.Message{message.User("overwrite x.txt, then read test.txt")},
		Limits:   budget.Limits{MaxSteps: 10, MaxToolCalls: 10},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := os.ReadFile(filepath.Join(root, "data", "outputs", "x.txt"))
	if string(got) != "A" {
		t.Fatalf("expected denied write to leave file untouched, got %q", got)
	}

	var sawDeniedWrite, sawSuccessfulRead bool
	for _, m := range result.Messages {
		if m.Role != message.RoleTool {
			continue
		}
		if m.ToolCallID == "1" && contains(m.Content, "Tool call denied by policy/approval.") {
			sawDeniedWrite = true
		}
		if m.ToolCallID == "2" && contains(m.Content, `"ok":true`) {
			sawSuccessfulRead = true
		}
	}

	if !sawDeniedWrite {
		t.Fatalf("expected the write to be denied")
	}
	if !sawSuccessfulRead {
		t.Fatalf("expected the sibling read to still execute")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
