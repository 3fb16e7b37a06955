// Package scheduler implements the tool loop scheduler (C6), the
// central algorithm of spec §4.6: it drives repeated model calls against
// a budget ledger, dispatches every tool call the model emits through
// the registry under an approval callback, and appends exactly one Tool
// message per ToolCall before the next model call.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/northfield-labs/agentloop/pkg/budget"
	"github.com/northfield-labs/agentloop/pkg/eventlog"
	"github.com/northfield-labs/agentloop/pkg/message"
	"github.com/northfield-labs/agentloop/pkg/policy"
	"github.com/northfield-labs/agentloop/pkg/provider"
	"github.com/northfield-labs/agentloop/pkg/tool"
)

// Approve is the synchronous-looking approval contract: it may suspend
// (e.g. a terminal prompt blocks, a bot holds a pending-map entry) but
// must eventually answer exactly one boolean per ToolCall.
type Approve func(ctx context.Context, call message.ToolCall) (bool, error)

// Request carries everything one scheduler run needs.
type Request struct {
	Provider        string
	Model           string
	Messages        []message.Message
	MaxOutputTokens int
	Temperature     *float64
	Tools           []provider.ToolDefinition
	Purpose         policy.Purpose

	Limits    budget.Limits
	KeepLastN int

	SessionID string
}

// Result is returned once the run's outer loop terminates.
type Result struct {
	Final      provider.Response
	Messages   []message.Message
	UsageTotal provider.Usage
}

// deniedMessage is the fixed content of a Tool message produced by a
// denied approval, quoted verbatim by the spec's literal scenarios.
const deniedMessage = "Tool call denied by policy/approval."

// Run executes the algorithm from spec §4.6 to completion.
func Run(ctx context.Context, router *provider.Router, registry *tool.Registry, env *tool.Environment, logger *slog.Logger, approve Approve, req Request) (Result, error) {
	if logger == nil {
		logger = slog.New(eventlog.NewHandler(discard{}))
	}

	ledger := budget.Create(req.Limits)
	messages := append([]message.Message{}, req.Messages...)

	var lastResponse *provider.Response
	var usageTotal provider.Usage

	tools := req.Tools
	if len(tools) == 0 {
		tools = definitionsFromRegistry(registry)
	}

	for {
		if !ledger.CanCallModel() {
			if lastResponse != nil {
				logger.Info(eventlog.EventToolloopDone,
					"session", req.SessionID, "purpose", string(req.Purpose),
					"provider", lastResponse.Provider, "model", lastResponse.Model,
				)
				return Result{Final: *lastResponse, Messages: messages, UsageTotal: usageTotal}, nil
			}
			return Result{}, fmt.Errorf("scheduler: budget exhausted before first model call")
		}

		var err error
		ledger, err = ledger.BookModelCall()
		if err != nil {
			return Result{}, err
		}

		start := time.Now()
		response, err := router.Chat(ctx, provider.Request{
			Provider:        req.Provider,
			Model:           req.Model,
			Messages:        messages,
			MaxOutputTokens: req.MaxOutputTokens,
			Temperature:     req.Temperature,
			Tools:           tools,
			Purpose:         req.Purpose,
		})
		elapsedMS := time.Since(start).Milliseconds()

		if err != nil {
			return Result{}, fmt.Errorf("scheduler: model call failed: %w", err)
		}

		logger.Info(eventlog.EventLLMStep,
			"session", req.SessionID, "purpose", string(req.Purpose),
			"provider", response.Provider, "model", response.Model, "ms", elapsedMS,
		)

		lastResponse = &response
		usageTotal = usageTotal.Add(response.Usage)
		ledger = ledger.BookUsage(budget.Usage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
			TotalTokens:  response.Usage.TotalTokens,
		})

		messages = append(messages, response.Message)
		messages = clampToLast(messages, req.KeepLastN)

		if len(response.Message.ToolCalls) == 0 {
			logger.Info(eventlog.EventToolloopDone,
				"session", req.SessionID, "purpose", string(req.Purpose),
				"provider", response.Provider, "model", response.Model,
			)
			return Result{Final: response, Messages: messages, UsageTotal: usageTotal}, nil
		}

		for _, call := range response.Message.ToolCalls {
			logger.Info(eventlog.EventToolSuggested, "session", req.SessionID, "purpose", string(req.Purpose), "message", call.Name)

			kind := policy.ClassifyTool(call.Name)

			ledger, err = ledger.BookToolCall(kind)
			if err != nil {
				if kind == policy.KindWrite {
					logger.Warn(eventlog.EventWriteBudgetExceeded, "session", req.SessionID, "message", call.Name)
				}
				return Result{}, fmt.Errorf("scheduler: %w", err)
			}

			logger.Info(eventlog.EventToolloopApprovePrompt, "session", req.SessionID, "message", call.Name)

			approved, err := approve(ctx, call)
			if err != nil {
				return Result{}, fmt.Errorf("scheduler: approval callback failed: %w", err)
			}

			var toolMessage message.Message

			if !approved {
				logger.Info(eventlog.EventToolDenied, "session", req.SessionID, "message", call.Name)
				toolMessage = message.Tool(call.Name, call.ID, message.Failure(call.Name, deniedMessage, nil).Encode())
			} else {
				logger.Info(eventlog.EventToolApproved, "session", req.SessionID, "message", call.Name)

				execStart := time.Now()
				result := registry.Execute(ctx, env, call)
				execMS := time.Since(execStart).Milliseconds()

				logger.Info(eventlog.EventToolExec, "session", req.SessionID, "message", call.Name, "ms", execMS)
				logger.Info(eventlog.EventToolResult, "session", req.SessionID, "message", call.Name)

				toolMessage = message.Tool(call.Name, call.ID, result.Encode())
			}

			messages = append(messages, toolMessage)
			messages = clampToLast(messages, req.KeepLastN)
		}
	}
}

// clampToLast trims messages to its last n entries. n <= 0 means no
// clamping.
func clampToLast(messages []message.Message, n int) []message.Message {
	if n <= 0 || len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

func definitionsFromRegistry(registry *tool.Registry) []provider.ToolDefinition {
	if registry == nil {
		return nil
	}

	tools := registry.List()
	defs := make([]provider.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// discard is an io.Writer seam for a default logger when the caller
// supplies none.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
