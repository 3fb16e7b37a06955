// Package policy enforces the purpose-aware filesystem and command
// sandbox that every side-effecting tool call must pass before it is
// allowed to touch the host: path validation for reads and writes, and
// an exact-string allow-list for subprocess commands.
package policy

import (
	"fmt"
	"os"
	"path"
	"strings"
)

// Access distinguishes read from write path validation.
type Access string

const (
	AccessRead  Access = "read"
	AccessWrite Access = "write"
)

// Purpose mirrors the scheduler-wide mode (spec GLOSSARY): default
// (interactive), dev (elevated), heartbeat (synthetic ping), runtime
// (programmatic use).
type Purpose string

const (
	PurposeDefault   Purpose = "default"
	PurposeDev       Purpose = "dev"
	PurposeHeartbeat Purpose = "heartbeat"
	PurposeRuntime   Purpose = "runtime"
)

// Rule names the specific check a rejection failed.
type Rule string

const (
	RuleSegment   Rule = "segment"
	RuleFile      Rule = "file"
	RuleTraversal Rule = "traversal"
	RuleAbsolute  Rule = "absolute"
	RulePrefix    Rule = "prefix"
	RuleSymlink   Rule = "symlink"
	RuleCommand   Rule = "command"
)

// Error reports a policy rejection, naming the rule that triggered it.
type Error struct {
	Rule    Rule
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("policy: %s: %s", e.Rule, e.Message)
}

func reject(rule Rule, format string, args ...any) error {
	return &Error{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// deniedDirs are path segments that may never appear anywhere in a
// validated path, regardless of access kind.
var deniedDirs = map[string]bool{
	".git":         true, // git-metadata
	"node_modules": true, // dependency-cache
	"vendor":       true, // dependency-cache
	"dist":         true, // build-artifact
	"build":        true, // build-artifact
}

// deniedFiles are base filenames that may never be the target of a
// read or write, regardless of directory.
var deniedFiles = map[string]bool{
	".env":           true,
	".env.local":     true,
	".env.production": true,
	".env.development": true,
	".netrc":         true,
}

// readAllowedPrefixes are the only top-level directories (or bare
// filenames) a read may resolve under.
var readAllowedPrefixes = []string{
	"src",
	"data",
	"logs",
	"notes",
	"README",
	"README.md",
	"package.json",
	"go.mod",
}

// Engine validates paths against a fixed project root and commands
// against a closed allow-list.
type Engine struct {
	Root string

	// Commands is the closed allow-list of exact command strings
	// accepted by ValidateCommand. When nil, DefaultCommands is used.
	Commands map[string]bool
}

// DefaultCommands is the closed allow-list named in spec §4.1: dependency
// manager test/build invocations, a type-checker dry run, and a
// version-control status query.
var DefaultCommands = map[string]bool{
	"go test ./...":      true,
	"go build ./...":     true,
	"go vet ./...":       true,
	"npm test":            true,
	"npm run build":       true,
	"npx tsc --noEmit":    true,
	"git status":          true,
}

// New constructs an Engine rooted at root. If commands is nil,
// DefaultCommands is used.
func New(root string, commands map[string]bool) *Engine {
	if commands == nil {
		commands = DefaultCommands
	}
	return &Engine{Root: root, Commands: commands}
}

// ValidatePath implements spec §4.1's path validation algorithm and
// returns the resolved absolute path.
func (e *Engine) ValidatePath(rawPath string, access Access, purpose Purpose) (string, error) {
	trimmed := strings.TrimSpace(rawPath)
	if trimmed == "" {
		return "", reject(RuleFile, "path is empty")
	}

	normalized := strings.ReplaceAll(trimmed, "\\", "/")

	if path.IsAbs(normalized) {
		return "", reject(RuleAbsolute, "absolute paths are not allowed: %q", rawPath)
	}

	clean := path.Clean(normalized)

	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", reject(RuleTraversal, "path escapes project root: %q", rawPath)
	}

	segments := strings.Split(clean, "/")
	for _, seg := range segments {
		if deniedDirs[seg] {
			return "", reject(RuleSegment, "path contains denied segment %q", seg)
		}
	}

	base := segments[len(segments)-1]
	if deniedFiles[base] {
		return "", reject(RuleFile, "path targets a denied file %q", base)
	}

	switch access {
	case AccessRead:
		if !hasAllowedPrefix(clean, readAllowedPrefixes) {
			return "", reject(RulePrefix, "read path %q is not under an allowed prefix", clean)
		}
	case AccessWrite:
		allowed := []string{"data/outputs"}
		if purpose == PurposeDev {
			allowed = []string{"data/outputs", "src"}
		}
		if !hasAllowedPrefix(clean, allowed) {
			return "", reject(RulePrefix, "write path %q is not under an allowed prefix for purpose %q", clean, purpose)
		}
	default:
		return "", reject(RuleFile, "unknown access kind %q", access)
	}

	resolved := path.Join(e.Root, clean)

	if info, err := os.Lstat(resolved); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return "", reject(RuleSymlink, "path %q is a symbolic link", clean)
		}
	}

	return resolved, nil
}

func hasAllowedPrefix(clean string, prefixes []string) bool {
	for _, p := range prefixes {
		if clean == p || strings.HasPrefix(clean, p+"/") {
			return true
		}
	}
	return false
}

// ValidateCommand implements spec §4.1's command validation: the exact
// trimmed string must appear in the closed allow-list.
func (e *Engine) ValidateCommand(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", reject(RuleCommand, "command is empty")
	}
	if !e.Commands[trimmed] {
		return "", reject(RuleCommand, "command %q is not on the allow-list", trimmed)
	}
	return trimmed, nil
}

// Kind classifies a tool name for budget accounting.
type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
	KindOther Kind = "other"
)

// toolKinds is the fixed classification for the five registered tools.
var toolKinds = map[string]Kind{
	"read_file":  KindRead,
	"list_dir":   KindRead,
	"write_file": KindWrite,
	"calculator": KindOther,
	"run_cmd":    KindOther,
}

// ClassifyTool maps a tool name to its budget Kind. Unknown tool names
// classify as KindOther rather than erroring; the registry itself is
// responsible for rejecting calls to unregistered tools.
func ClassifyTool(name string) Kind {
	if k, ok := toolKinds[name]; ok {
		return k
	}
	return KindOther
}
