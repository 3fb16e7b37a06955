// Command agentloop is the terminal surface (spec §6): a flag-driven
// collaborator that can execute a single manual tool call, run a
// non-tool assistant turn, or drive the full scheduler loop with a
// stdin approval prompt.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/northfield-labs/agentloop/pkg/budget"
	"github.com/northfield-labs/agentloop/pkg/classify"
	"github.com/northfield-labs/agentloop/pkg/config"
	"github.com/northfield-labs/agentloop/pkg/eventlog"
	"github.com/northfield-labs/agentloop/pkg/message"
	"github.com/northfield-labs/agentloop/pkg/policy"
	"github.com/northfield-labs/agentloop/pkg/scheduler"
	"github.com/northfield-labs/agentloop/pkg/session"
	"github.com/northfield-labs/agentloop/pkg/tool"
	"github.com/northfield-labs/agentloop/pkg/tool/calc"
	"github.com/northfield-labs/agentloop/pkg/tool/cmdexec"
	"github.com/northfield-labs/agentloop/pkg/tool/fsops"
)

func main() {
	os.Exit(run())
}

func run() int {
	sessionID := flag.String("session", "", "session id (generated when empty)")
	dev := flag.Bool("dev", false, "run under the dev purpose (elevated write scope)")
	heartbeat := flag.Bool("heartbeat", false, "run under the heartbeat purpose")
	system := flag.String("system", "", "system message to prepend")
	toolName := flag.String("tool", "", "execute a single named tool manually, bypassing the model")
	path := flag.String("path", "", "path argument for a manual read_file/list_dir/write_file call")
	content := flag.String("content", "", "content argument for a manual write_file call")
	overwrite := flag.Bool("overwrite", false, "overwrite argument for a manual write_file call")
	toolloop := flag.Bool("toolloop", false, "run the full scheduler loop instead of a single turn")
	steps := flag.Int("steps", 0, "alias for -maxSteps")
	maxSteps := flag.Int("maxSteps", 10, "maximum model calls in one run")
	maxToolCalls := flag.Int("maxToolCalls", 20, "maximum tool calls in one run")
	maxOutputTokens := flag.Int("maxOutputTokens", 1024, "maximum output tokens requested per model call")
	yes := flag.Bool("yes", false, "auto-approve read/list tool calls; writes still confirm")
	jsonOut := flag.Bool("json", false, "print the raw JSON result instead of a formatted summary")
	providerName := flag.String("provider", "", "provider name (defaults per purpose)")
	model := flag.String("model", "", "model name (defaults per provider)")
	text := flag.String("text", "", "user message for a model turn")
	flag.Parse()

	if *steps > 0 {
		*maxSteps = *steps
	}

	root, err := os.Getwd()
	if err != nil {
		return fail(err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fail(err)
	}

	logFile, err := openAppendLog(cfg.LogPath)
	if err != nil {
		return fail(err)
	}
	defer logFile.Close()
	logger := slog.New(eventlog.NewHandler(logFile))

	purpose := policy.PurposeDefault
	switch {
	case *dev:
		purpose = policy.PurposeDev
	case *heartbeat:
		purpose = policy.PurposeHeartbeat
	}

	store := session.New(cfg.DataDir + "/sessions")
	sess, err := store.GetOrCreate(*sessionID)
	if err != nil {
		return fail(err)
	}

	env := &tool.Environment{Root: root, Purpose: purpose, Policy: cfg.Policy}
	registry := tool.NewRegistry(append(fsops.Tools(), calc.Tool(), cmdexec.Tool())...)

	if *toolName != "" {
		return runManualTool(registry, env, *toolName, *path, *content, *overwrite, *jsonOut)
	}

	if *system != "" {
		sess.Messages = append(sess.Messages, message.System(*system))
	}
	if *text != "" {
		sess.Messages = append(sess.Messages, message.User(*text))
	}

	if !*toolloop {
		return fail(fmt.Errorf("agentloop: pass -toolloop to run the scheduler, or -tool to run a single manual call"))
	}

	approve := approvalCallback(*yes, os.Stdin)

	result, err := scheduler.Run(context.Background(), cfg.Router, registry, env, logger, approve, scheduler.Request{
		Provider:        *providerName,
		Model:           *model,
		Messages:        sess.Messages,
		MaxOutputTokens: maxOutputTokens64(*maxOutputTokens),
		Purpose:         purpose,
		Limits: budget.Limits{
			MaxSteps:     *maxSteps,
			MaxToolCalls: *maxToolCalls,
		},
		SessionID: sess.ID,
	})
	if err != nil {
		logError(logger, sess.ID, err)
		return fail(err)
	}

	sess.Messages = result.Messages
	if _, err := store.Save(sess); err != nil {
		return fail(err)
	}

	if *jsonOut {
		out, err := json.Marshal(result)
		if err != nil {
			return fail(err)
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("[%s/%s] %s\n", result.Final.Provider, result.Final.Model, result.Final.Text)
		fmt.Printf("usage: %d in + %d out = %d total tokens\n", result.UsageTotal.InputTokens, result.UsageTotal.OutputTokens, result.UsageTotal.TotalTokens)
	}

	return 0
}

func maxOutputTokens64(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}

// runManualTool executes a single named tool directly through the
// registry, bypassing the model entirely.
func runManualTool(registry *tool.Registry, env *tool.Environment, name, path, content string, overwrite bool, jsonOut bool) int {
	args := map[string]any{}
	if path != "" {
		args["path"] = path
	}
	if content != "" {
		args["content"] = content
	}
	if overwrite {
		args["overwrite"] = true
	}

	argsJSON, err := marshalArgs(args)
	if err != nil {
		return fail(err)
	}

	result := registry.Execute(context.Background(), env, message.ToolCall{ID: "manual", Name: name, ArgumentsJSON: argsJSON})

	if jsonOut {
		fmt.Println(result.Encode())
	} else if result.OK {
		fmt.Printf("ok: %+v\n", result.Result)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", result.Error)
		return 1
	}

	return 0
}

func marshalArgs(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// approvalCallback builds the scheduler.Approve used by the terminal
// surface: with -yes, read_file/list_dir auto-approve; every write and
// every call without -yes blocks on a y/yes prompt over stdin.
func approvalCallback(autoApprove bool, stdin *os.File) scheduler.Approve {
	reader := bufio.NewReader(stdin)
	return func(ctx context.Context, call message.ToolCall) (bool, error) {
		kind := policy.ClassifyTool(call.Name)
		if autoApprove && kind == policy.KindRead {
			return true, nil
		}

		fmt.Printf("Approve %s call %s? [y/N] ", call.Name, call.ID)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, nil
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

func openAppendLog(path string) (*os.File, error) {
	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func logError(logger *slog.Logger, sessionID string, err error) {
	kind := classify.Classify(err)
	logger.Error("error", "session", sessionID, "errorClass", string(kind), "message", err.Error())
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
