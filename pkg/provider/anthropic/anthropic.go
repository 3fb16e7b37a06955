// Package anthropic adapts the canonical provider.Client interface to
// Anthropic's Messages API, whose wire shape differs from the
// Chat-Completions family in two ways this adapter must bridge: system
// instructions are a dedicated top-level field rather than a message
// role, and usage is reported as input_tokens/output_tokens rather than
// prompt_tokens/completion_tokens.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/northfield-labs/agentloop/pkg/message"
	"github.com/northfield-labs/agentloop/pkg/provider"
)

// Config configures a Client.
type Config struct {
	APIKey string

	// BaseURL overrides the default API endpoint. Empty uses the SDK's
	// default; set in tests to point at an httptest.Server.
	BaseURL string
}

// Client adapts provider.Client to Anthropic's Messages API.
type Client struct {
	client anthropic.Client
}

// New constructs a Client, raising provider.MissingCredentialsError
// when cfg.APIKey is empty.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &provider.MissingCredentialsError{Provider: "anthropic", EnvVar: "ANTHROPIC_API_KEY"}
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client: anthropic.NewClient(opts...),
	}, nil
}

// Chat implements provider.Client.
func (c *Client) Chat(ctx context.Context, req provider.Request) (provider.Response, error) {
	params, err := buildParams(req)
	if err != nil {
		return provider.Response{}, fmt.Errorf("anthropic: build params: %w", err)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return provider.Response{}, fmt.Errorf("anthropic: messages: %w", err)
	}

	var text strings.Builder
	var toolCalls []message.ToolCall

	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			argsJSON, err := json.Marshal(variant.Input)
			if err != nil {
				argsJSON = []byte("{}")
			}
			toolCalls = append(toolCalls, message.ToolCall{
				ID:            variant.ID,
				Name:          variant.Name,
				ArgumentsJSON: string(argsJSON),
			})
		}
	}

	usage := provider.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.InputTokens) + int(resp.Usage.OutputTokens),
	}

	return provider.Response{
		Provider:     "anthropic",
		Model:        req.Model,
		Text:         text.String(),
		Message:      message.Assistant(text.String(), toolCalls),
		Usage:        usage,
		FinishReason: mapStopReason(string(resp.StopReason)),
		ResponseID:   resp.ID,
	}, nil
}

func mapStopReason(reason string) provider.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return provider.FinishStop
	case "max_tokens":
		return provider.FinishLength
	case "tool_use":
		return provider.FinishToolCall
	case "":
		return provider.FinishUnknown
	default:
		return provider.FinishUnknown
	}
}

// buildParams converts the canonical request into Anthropic SDK params,
// concatenating every System message into the dedicated System field
// (blank-line separated) and re-serializing prior tool calls/results
// as tool_use/tool_result content blocks.
func buildParams(req provider.Request) (anthropic.MessageNewParams, error) {
	var systemParts []string
	var messages []anthropic.MessageParam

	for _, m := range req.Messages {
		switch m.Role {
		case message.RoleSystem:
			systemParts = append(systemParts, m.Content)

		case message.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))

		case message.RoleAssistant:
			blocks, err := assistantBlocks(m)
			if err != nil {
				return anthropic.MessageNewParams{}, err
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))

		case message.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))

		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: unexpected message role %q", m.Role)
		}
	}

	if !hasUserMessage(req.Messages) {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock("Hello")))
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.MaxOutputTokens),
		Messages:    messages,
		Temperature: anthropic.Float(provider.ResolveTemperature(req.Temperature)),
	}

	if len(systemParts) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(systemParts, "\n\n")}}
	}

	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        td.Name,
				Description: anthropic.String(td.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: td.Parameters["properties"],
				},
			},
		})
	}

	return params, nil
}

func assistantBlocks(m message.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion

	if m.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}

	for _, tc := range m.ToolCalls {
		var input any
		if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &input); err != nil {
			return nil, fmt.Errorf("anthropic: decode tool call arguments for %q: %w", tc.Name, err)
		}
		blocks = append(blocks, anthropic.ContentBlockParamUnion{
			OfRequestToolUseBlock: &anthropic.ToolUseBlockParam{
				ID:    tc.ID,
				Input: input,
				Name:  tc.Name,
			},
		})
	}

	return blocks, nil
}

func hasUserMessage(messages []message.Message) bool {
	for _, m := range messages {
		if m.Role == message.RoleUser {
			return true
		}
	}
	return false
}
