package classify

import (
	"errors"
	"fmt"
	"testing"

	"github.com/northfield-labs/agentloop/pkg/budget"
	"github.com/northfield-labs/agentloop/pkg/config"
	"github.com/northfield-labs/agentloop/pkg/policy"
	"github.com/northfield-labs/agentloop/pkg/provider"
)

func TestClassifySentinelErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"missing env", &config.MissingEnvError{Var: "GROK_API_KEY"}, KindConfigMissingEnv},
		{"missing credentials", &provider.MissingCredentialsError{Provider: "grok"}, KindConfigMissingKey},
		{"policy rejection", &policy.Error{Rule: policy.RulePrefix, Message: "nope"}, KindPolicy},
		{"budget exceeded", &budget.ExceededError{Reason: "steps exhausted"}, KindBudget},
		{"wrapped policy rejection", fmt.Errorf("tool failed: %w", &policy.Error{Rule: policy.RuleSegment}), KindPolicy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyByMessageHeuristics(t *testing.T) {
	cases := map[string]Kind{
		"dial tcp: connection refused": KindNetwork,
		"context deadline exceeded: timeout": KindNetwork,
		"request failed: unauthorized": KindAuth,
		"model gpt-nonexistent not found": KindModelNotFound,
		"something totally unexpected": KindUnknown,
	}

	for msg, want := range cases {
		if got := Classify(errors.New(msg)); got != want {
			t.Errorf("Classify(%q) = %q, want %q", msg, got, want)
		}
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != KindUnknown {
		t.Fatalf("expected KindUnknown for nil, got %q", got)
	}
}
