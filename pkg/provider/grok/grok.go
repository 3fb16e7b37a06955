// Package grok adapts the canonical provider.Client interface to
// Grok's OpenAI-Chat-Completions-compatible wire API, using the same
// openai-go SDK the rest of the stack uses against an alternate base
// URL.
package grok

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/northfield-labs/agentloop/pkg/message"
	"github.com/northfield-labs/agentloop/pkg/provider"
)

const defaultBaseURL = "https://api.x.ai/v1"

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client adapts provider.Client to Grok's Chat Completions wire format.
type Client struct {
	client oai.Client
}

// New constructs a Client. It raises provider.MissingCredentialsError
// when cfg.APIKey is empty rather than deferring the failure to the
// first call.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &provider.MissingCredentialsError{Provider: "grok", EnvVar: "GROK_API_KEY"}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	return &Client{client: oai.NewClient(opts...)}, nil
}

// Chat implements provider.Client.
func (c *Client) Chat(ctx context.Context, req provider.Request) (provider.Response, error) {
	params, err := buildParams(req)
	if err != nil {
		return provider.Response{}, fmt.Errorf("grok: build params: %w", err)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return provider.Response{}, fmt.Errorf("grok: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return provider.Response{}, fmt.Errorf("grok: empty choices in response")
	}

	choice := resp.Choices[0]

	toolCalls := make([]message.ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, message.ToolCall{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsJSON: tc.Function.Arguments,
		})
	}

	inputTokens := int(resp.Usage.PromptTokens)
	outputTokens := int(resp.Usage.CompletionTokens)
	usage := provider.Usage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
	}

	return provider.Response{
		Provider:     "grok",
		Model:        req.Model,
		Text:         choice.Message.Content,
		Message:      message.Assistant(choice.Message.Content, toolCalls),
		Usage:        usage,
		FinishReason: mapFinishReason(string(choice.FinishReason)),
		ResponseID:   resp.ID,
	}, nil
}

func mapFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "stop":
		return provider.FinishStop
	case "length":
		return provider.FinishLength
	case "tool_calls":
		return provider.FinishToolCall
	case "content_filter":
		return provider.FinishContentFilter
	case "":
		return provider.FinishUnknown
	default:
		return provider.FinishUnknown
	}
}

// buildParams converts the canonical request into OpenAI SDK params,
// concatenating any System messages into a single leading system
// message (the wire format Grok shares with OpenAI expects one).
func buildParams(req provider.Request) (oai.ChatCompletionNewParams, error) {
	var systemParts []string
	var messages []oai.ChatCompletionMessageParamUnion

	for _, m := range req.Messages {
		if m.Role == message.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}

		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	if len(systemParts) > 0 {
		messages = append([]oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(strings.Join(systemParts, "\n\n")),
		}, messages...)
	}

	if !hasUserMessage(req.Messages) {
		messages = append(messages, oai.UserMessage("Hello"))
	}

	params := oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(req.Model),
		Messages:            messages,
		Temperature:         param.NewOpt(provider.ResolveTemperature(req.Temperature)),
		MaxCompletionTokens: param.NewOpt(int64(req.MaxOutputTokens)),
	}

	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolUnionParam{
			OfFunction: &oai.ChatCompletionFunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        td.Name,
					Description: param.NewOpt(td.Description),
					Parameters:  shared.FunctionParameters(td.Parameters),
				},
			},
		})
	}

	return params, nil
}

func hasUserMessage(messages []message.Message) bool {
	for _, m := range messages {
		if m.Role == message.RoleUser {
			return true
		}
	}
	return false
}

func convertMessage(m message.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case message.RoleUser:
		return oai.UserMessage(m.Content), nil

	case message.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &oai.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: oai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.ArgumentsJSON,
					},
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case message.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("grok: unexpected message role %q", m.Role)
	}
}
