// Package provider defines the canonical request/response shapes that
// every wire-specific adapter (pkg/provider/grok, pkg/provider/anthropic)
// normalizes into, plus a Router that selects an adapter by name and
// fills in purpose- and provider-scoped defaults. Provider-shaped data
// never leaks past the adapter boundary: callers only ever see the
// types in this file.
package provider

import (
	"context"
	"fmt"

	"github.com/northfield-labs/agentloop/pkg/message"
	"github.com/northfield-labs/agentloop/pkg/policy"
)

// FinishReason is the closed set every adapter must map its wire-native
// stop reason into.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCall      FinishReason = "tool_call"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
	FinishUnknown       FinishReason = "unknown"
)

// Usage is the canonical token-accounting shape every adapter
// normalizes into, regardless of whether the wire format used
// prompt_tokens/completion_tokens, input_tokens/output_tokens, or
// already-canonical field names.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Add returns the element-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// RequestMeta carries optional tracing identifiers threaded through to
// the event log.
type RequestMeta struct {
	RequestID string
	TraceID   string
}

// Request is the canonical shape submitted to a Client.
type Request struct {
	Provider        string
	Model           string
	Messages        []message.Message
	MaxOutputTokens int
	Temperature     *float64
	Tools           []ToolDefinition
	Purpose         policy.Purpose
	Meta            RequestMeta
}

// Response is the canonical shape every adapter returns.
type Response struct {
	Provider     string
	Model        string
	Text         string
	Message      message.Message
	Usage        Usage
	FinishReason FinishReason
	ResponseID   string
}

// Client is the one interface every provider adapter implements.
type Client interface {
	Chat(ctx context.Context, req Request) (Response, error)
}

// MissingCredentialsError reports that an adapter could not find the
// credentials it requires, distinct from a request-time auth failure
// against a remote that did receive a credential.
type MissingCredentialsError struct {
	Provider string
	EnvVar   string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("provider %s: missing credentials (%s)", e.Provider, e.EnvVar)
}

// defaultTemperature is applied when Request.Temperature is nil, per
// the normalization rule every adapter follows.
const defaultTemperature = 0.2

// ClampMaxOutputTokens enforces max(1, floor(x)) on a requested output
// cap.
func ClampMaxOutputTokens(x int) int {
	if x < 1 {
		return 1
	}
	return x
}

// ResolveTemperature returns the request's temperature, or the default
// when unset.
func ResolveTemperature(t *float64) float64 {
	if t == nil {
		return defaultTemperature
	}
	return *t
}

// Router selects a concrete Client by provider name, filling in
// purpose- and provider-scoped defaults for provider/model when the
// caller did not specify them.
type Router struct {
	clients       map[string]Client
	defaultModels map[string]string
}

// NewRouter builds a Router with no registered clients.
func NewRouter() *Router {
	return &Router{
		clients:       make(map[string]Client),
		defaultModels: make(map[string]string),
	}
}

// Register adds a named provider's Client and its default model.
func (r *Router) Register(name string, client Client, defaultModel string) {
	r.clients[name] = client
	r.defaultModels[name] = defaultModel
}

// defaultProviderFor resolves a provider name from purpose when the
// caller left it unspecified: dev purposes prefer the anthropic-style
// adapter, everything else uses the default provider.
func defaultProviderFor(purpose policy.Purpose) string {
	if purpose == policy.PurposeDev {
		return "anthropic"
	}
	return "grok"
}

// Chat resolves req.Provider and req.Model (filling in defaults when
// absent), dispatches to the matching Client, and raises when the
// provider name does not resolve to a registered adapter —
// exhaustiveness is enforced here, not inside any one adapter.
func (r *Router) Chat(ctx context.Context, req Request) (Response, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = defaultProviderFor(req.Purpose)
	}

	client, ok := r.clients[providerName]
	if !ok {
		return Response{}, fmt.Errorf("provider: unknown provider %q", providerName)
	}

	if req.Model == "" {
		req.Model = r.defaultModels[providerName]
	}
	req.Provider = providerName
	req.MaxOutputTokens = ClampMaxOutputTokens(req.MaxOutputTokens)

	return client.Chat(ctx, req)
}
