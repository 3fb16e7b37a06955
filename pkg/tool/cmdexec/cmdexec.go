// Package cmdexec implements the run_cmd tool from spec §4.2: execution
// of an exact-string command from a closed allow-list, spawned directly
// (no shell), with a hard deadline and per-stream output truncation.
package cmdexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/northfield-labs/agentloop/pkg/tool"
)

const (
	defaultTimeout = 10 * time.Second
	maxStreamChars = 8000
)

// Result is the result payload of run_cmd.
type Result struct {
	Command        string `json:"command"`
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	ExitCode       int    `json:"exitCode"`
	Success        bool   `json:"success"`
	StdoutTruncated bool  `json:"stdoutTruncated"`
	StderrTruncated bool  `json:"stderrTruncated"`
	TimedOut       bool   `json:"timedOut"`
}

// Tool returns the run_cmd tool.
func Tool() tool.Tool {
	return tool.Tool{
		Name:        "run_cmd",
		Description: "Run one of a fixed set of allow-listed commands (e.g. \"go test ./...\", \"git status\"). No shell is involved; the command string must match an allow-list entry exactly.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "The exact allow-listed command to run"},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
		Execute: func(ctx context.Context, env *tool.Environment, args map[string]any) (any, error) {
			raw, ok := args["command"].(string)
			if !ok || raw == "" {
				return nil, fmt.Errorf("command is required")
			}

			command, err := env.Policy.ValidateCommand(raw)
			if err != nil {
				return nil, err
			}

			return run(ctx, env.Root, command)
		},
	}
}

// run spawns command's binary directly — split on whitespace, no shell
// interpretation — with a hard deadline, and kills its whole process
// group if the deadline fires so no orphan survives.
func run(parent context.Context, workingDir, command string) (Result, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return Result{}, fmt.Errorf("run_cmd: empty command")
	}

	ctx, cancel := context.WithTimeout(parent, defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = workingDir
	setupProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startErr := cmd.Start()
	if startErr != nil {
		return Result{}, fmt.Errorf("run_cmd: failed to start %q: %w", command, startErr)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done

		var outTrunc, errTrunc bool
		return Result{
			Command:         command,
			Stdout:          truncate(stdout.String(), &outTrunc),
			Stderr:          truncate(stderr.String(), &errTrunc),
			ExitCode:        -1,
			Success:         false,
			StdoutTruncated: outTrunc,
			StderrTruncated: errTrunc,
			TimedOut:        true,
		}, nil

	case waitErr := <-done:
		exitCode := 0
		if waitErr != nil {
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}

		outTruncated := false
		errTruncated := false

		return Result{
			Command:         command,
			Stdout:          truncate(stdout.String(), &outTruncated),
			Stderr:          truncate(stderr.String(), &errTruncated),
			ExitCode:        exitCode,
			Success:         exitCode == 0,
			StdoutTruncated: outTruncated,
			StderrTruncated: errTruncated,
		}, nil
	}
}

func truncate(s string, truncated *bool) string {
	runes := []rune(s)
	if len(runes) <= maxStreamChars {
		return s
	}
	*truncated = true
	return string(runes[:maxStreamChars]) + "\n[truncated]"
}
