// Package fsops implements the three filesystem tools from spec §4.2:
// read_file, list_dir, and write_file. Every path is re-validated
// through the policy engine before any I/O happens; write_file performs
// its write atomically via a temp-file-then-rename within the target
// directory.
package fsops

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/northfield-labs/agentloop/pkg/policy"
	"github.com/northfield-labs/agentloop/pkg/tool"
)

const (
	maxReadBytes  = 200 * 1024
	maxReturnRune = 4000
	maxListEntries = 200
)

// secretPattern matches the value half of a "KEY=value"-shaped line
// whose key ends in one of the spec's named secret-holders (the name
// followed directly by optional whitespace and "="). The value
// is replaced with sentinelRedacted regardless of whether it is quoted.
var secretPattern = regexp.MustCompile(`(?i)(API_KEY|GROK_API_KEY|OPENAI_API_KEY|ANTHROPIC_API_KEY|TOKEN|SECRET|PASSWORD)\s*=\s*.*`)

const sentinelRedacted = "[REDACTED]"

func redactSecrets(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if secretPattern.MatchString(line) {
			lines[i] = secretPattern.ReplaceAllStringFunc(line, func(match string) string {
				idx := strings.Index(match, "=")
				if idx < 0 {
					return match
				}
				return match[:idx+1] + sentinelRedacted
			})
		}
	}
	return strings.Join(lines, "\n")
}

// ReadFileResult is the result payload of read_file.
type ReadFileResult struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Bytes     int    `json:"bytes"`
	Truncated bool   `json:"truncated"`
}

// ReadFileTool returns the read_file tool.
func ReadFileTool() tool.Tool {
	return tool.Tool{
		Name:        "read_file",
		Description: "Read a UTF-8 text file. Secret-bearing lines are redacted. Output is truncated to 4000 characters.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Path to the file to read"},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
		Execute: func(ctx context.Context, env *tool.Environment, args map[string]any) (any, error) {
			p, ok := args["path"].(string)
			if !ok || p == "" {
				return nil, fmt.Errorf("path is required")
			}

			resolved, err := env.Policy.ValidatePath(p, policy.AccessRead, env.Purpose)
			if err != nil {
				return nil, err
			}

			info, err := os.Stat(resolved)
			if err != nil {
				return nil, fmt.Errorf("read_file: %w", err)
			}

			size := int(info.Size())
			if size > maxReadBytes {
				return nil, fmt.Errorf("read_file: file is %d bytes, exceeds the %d byte limit", size, maxReadBytes)
			}

			raw, err := os.ReadFile(resolved)
			if err != nil {
				return nil, fmt.Errorf("read_file: %w", err)
			}

			content := redactSecrets(string(raw))

			truncated := false
			runes := []rune(content)
			if len(runes) > maxReturnRune {
				content = string(runes[:maxReturnRune]) + "\n[truncated]"
				truncated = true
			}

			return ReadFileResult{
				Path:      p,
				Content:   content,
				Bytes:     size,
				Truncated: truncated,
			}, nil
		},
	}
}

// DirEntry is one entry returned by list_dir.
type DirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ListDirResult is the result payload of list_dir.
type ListDirResult struct {
	Path    string     `json:"path"`
	Entries []DirEntry `json:"entries"`
	Capped  bool       `json:"capped"`
}

// ListDirTool returns the list_dir tool.
func ListDirTool() tool.Tool {
	return tool.Tool{
		Name:        "list_dir",
		Description: "List the direct children of a directory, up to 200 entries.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Path to the directory to list"},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
		Execute: func(ctx context.Context, env *tool.Environment, args map[string]any) (any, error) {
			p, ok := args["path"].(string)
			if !ok || p == "" {
				return nil, fmt.Errorf("path is required")
			}

			resolved, err := env.Policy.ValidatePath(p, policy.AccessRead, env.Purpose)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(resolved)
			if err != nil {
				return nil, fmt.Errorf("list_dir: %w", err)
			}

			sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

			capped := len(entries) > maxListEntries
			if capped {
				entries = entries[:maxListEntries]
			}

			out := make([]DirEntry, 0, len(entries))
			for _, e := range entries {
				out = append(out, DirEntry{Name: e.Name(), Type: entryType(e)})
			}

			return ListDirResult{Path: p, Entries: out, Capped: capped}, nil
		},
	}
}

func entryType(e os.DirEntry) string {
	info, err := e.Info()
	if err != nil {
		return "other"
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return "symlink"
	case info.IsDir():
		return "dir"
	case info.Mode().IsRegular():
		return "file"
	default:
		return "other"
	}
}

// WriteFileResult is the result payload of write_file.
type WriteFileResult struct {
	Path          string `json:"path"`
	BytesWritten  int    `json:"bytesWritten"`
}

// WriteFileTool returns the write_file tool.
func WriteFileTool() tool.Tool {
	return tool.Tool{
		Name:        "write_file",
		Description: "Write content to a file under data/outputs (or src, under the dev purpose). Creates parent directories as needed. Atomic: writes to a temp file then renames.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":      map[string]any{"type": "string", "description": "Path to the file to write"},
				"content":   map[string]any{"type": "string", "description": "Content to write"},
				"overwrite": map[string]any{"type": "boolean", "description": "Overwrite an existing file (default false)"},
			},
			"required":             []string{"path", "content"},
			"additionalProperties": false,
		},
		Execute: func(ctx context.Context, env *tool.Environment, args map[string]any) (any, error) {
			p, ok := args["path"].(string)
			if !ok || p == "" {
				return nil, fmt.Errorf("path is required")
			}

			content, ok := args["content"].(string)
			if !ok {
				return nil, fmt.Errorf("content is required")
			}

			overwrite, _ := args["overwrite"].(bool)

			resolved, err := env.Policy.ValidatePath(p, policy.AccessWrite, env.Purpose)
			if err != nil {
				return nil, err
			}

			if !overwrite {
				if _, err := os.Stat(resolved); err == nil {
					return nil, fmt.Errorf("write_file: File exists: %s", p)
				}
			}

			dir := filepath.Dir(resolved)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("write_file: create parent directory: %w", err)
			}

			n, err := atomicWrite(dir, resolved, []byte(content))
			if err != nil {
				return nil, fmt.Errorf("write_file: %w", err)
			}

			return WriteFileResult{Path: p, BytesWritten: n}, nil
		},
	}
}

// atomicWrite writes data to a temp file in dir, then renames it onto
// target — the pattern generalized from the teacher's fs_write.go into
// the spec's required write-to-temp-then-rename atomicity.
func atomicWrite(dir, target string, data []byte) (int, error) {
	tmp := filepath.Join(dir, fmt.Sprintf(".tmp-%s", uuid.NewString()))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	w := bufio.NewWriter(f)
	n, err := w.Write(data)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	return n, nil
}

// Tools returns the three filesystem tools in a fixed order.
func Tools() []tool.Tool {
	return []tool.Tool{ReadFileTool(), ListDirTool(), WriteFileTool()}
}
