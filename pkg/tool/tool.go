// Package tool defines the uniform tool abstraction (C2 Tool Registry):
// a Tool's JSON-schema definition plus its executable behavior, an
// Environment carrying the sandbox root and invocation purpose, and a
// Registry that funnels every call through one dispatch point so no
// thrown error or panic ever escapes un-translated.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/northfield-labs/agentloop/pkg/message"
	"github.com/northfield-labs/agentloop/pkg/policy"
)

// Environment carries everything a Tool.Execute needs about the call
// it is servicing: the sandbox root, the purpose under which the
// scheduler is running, and the policy engine used to re-validate
// every effect before it happens.
type Environment struct {
	Root    string
	Purpose policy.Purpose
	Policy  *policy.Engine
}

// Handler is the function signature every tool implements.
type Handler func(ctx context.Context, env *Environment, args map[string]any) (any, error)

// Tool is one entry in the registry: its name and description (surfaced
// to the model via ToolDefinition), its JSON-schema parameters, and its
// Handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Execute     Handler
}

// Registry holds the set of tools available to a scheduler run and
// exposes the single dispatch operation required by spec §4.2: every
// invocation funnels through Execute, and no thrown error escapes
// un-translated.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a Registry from the given tools. Later entries
// with a duplicate name replace earlier ones.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Lookup returns the tool with the given name, if registered.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Execute runs the named tool's handler against the given call and
// always returns a fully-formed message.Result — never an error that
// would escape the registry. Unknown tool names, malformed argument
// JSON, and handler panics are all translated into {ok:false} results.
func (r *Registry) Execute(ctx context.Context, env *Environment, call message.ToolCall) message.Result {
	t, ok := r.tools[call.Name]
	if !ok {
		return message.Failure(call.Name, fmt.Sprintf("unknown tool %q", call.Name), nil)
	}

	var args map[string]any
	if call.ArgumentsJSON != "" {
		if err := json.Unmarshal([]byte(call.ArgumentsJSON), &args); err != nil {
			return message.Failure(call.Name, fmt.Sprintf("invalid arguments JSON: %v", err), nil)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := r.safeExecute(ctx, env, t, args)
	if err != nil {
		return message.Failure(call.Name, err.Error(), nil)
	}

	return message.Success(call.Name, result)
}

// safeExecute recovers from a panicking handler and turns it into an
// error, so that a single misbehaving tool cannot bring down the
// scheduler loop.
func (r *Registry) safeExecute(ctx context.Context, env *Environment, t Tool, args map[string]any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name, p)
		}
	}()

	return t.Execute(ctx, env, args)
}
