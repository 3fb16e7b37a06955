package message

import "testing"

func TestValidateAcceptsPairedToolCall(t *testing.T) {
	messages := []Message{
		User("what's 2+2?"),
		Assistant("", []ToolCall{{ID: "call-1", Name: "calc", ArgumentsJSON: `{"expr":"2+2"}`}}),
		Tool("calc", "call-1", `{"ok":true,"result":4}`),
	}

	if err := Validate(messages); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsUnknownToolCallID(t *testing.T) {
	messages := []Message{
		User("hi"),
		Tool("calc", "call-1", `{"ok":true}`),
	}

	err := Validate(messages)
	if err == nil {
		t.Fatalf("expected an error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.ToolCallID != "call-1" {
		t.Fatalf("expected ToolCallID %q, got %q", "call-1", ve.ToolCallID)
	}
}

func TestValidateRejectsDuplicateToolMessages(t *testing.T) {
	messages := []Message{
		User("hi"),
		Assistant("", []ToolCall{{ID: "call-1", Name: "calc", ArgumentsJSON: `{}`}}),
		Tool("calc", "call-1", `{"ok":true}`),
		Tool("calc", "call-1", `{"ok":true}`),
	}

	err := Validate(messages)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
}
