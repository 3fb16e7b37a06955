// Package eventlog implements the append-only JSON-lines event log from
// spec §6: a custom slog.Handler that emits exactly the record shape
// the spec names, at the call sites the scheduler and entrypoints use.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Record is one JSON-lines entry. Fields beyond ts/level/event are
// populated only when the emitting call site has a value for them.
type Record struct {
	TS         time.Time `json:"ts"`
	Level      string    `json:"level"`
	Event      string    `json:"event"`
	Session    string    `json:"session,omitempty"`
	Purpose    string    `json:"purpose,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
	MS         *int64    `json:"ms,omitempty"`
	ErrorClass string    `json:"errorClass,omitempty"`
	Message    string    `json:"message,omitempty"`
	Details    any       `json:"details,omitempty"`
}

// handler is a slog.Handler that writes one Record per line to w.
type handler struct {
	mu    *sync.Mutex
	w     io.Writer
	attrs []slog.Attr
}

// NewHandler returns a slog.Handler writing JSON-lines Records to w.
func NewHandler(w io.Writer) slog.Handler {
	return &handler{mu: &sync.Mutex{}, w: w}
}

func (h *handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *handler) Handle(_ context.Context, rec slog.Record) error {
	out := Record{
		TS:    rec.Time.UTC(),
		Level: levelString(rec.Level),
		Event: rec.Message,
	}

	apply := func(a slog.Attr) bool {
		applyAttr(&out, a)
		return true
	}
	for _, a := range h.attrs {
		apply(a)
	}
	rec.Attrs(apply)

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = fmt.Fprintln(h.w, string(data))
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &handler{mu: h.mu, w: h.w, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
	return next
}

func (h *handler) WithGroup(string) slog.Handler {
	return h
}

func applyAttr(out *Record, a slog.Attr) {
	v := a.Value.Resolve()
	switch a.Key {
	case "session":
		out.Session = v.String()
	case "purpose":
		out.Purpose = v.String()
	case "provider":
		out.Provider = v.String()
	case "model":
		out.Model = v.String()
	case "ms":
		ms := v.Int64()
		out.MS = &ms
	case "errorClass":
		out.ErrorClass = v.String()
	case "message":
		out.Message = v.String()
	case "details":
		out.Details = v.Any()
	}
}

func levelString(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "debug"
	case l < slog.LevelWarn:
		return "info"
	case l < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// Events names the fixed set of event points the scheduler and
// entrypoints emit at, per spec §6.
const (
	EventLLMStep               = "llm_step"
	EventToolloopDone          = "toolloop_done"
	EventToolSuggested         = "tool_suggested"
	EventToolApproved          = "tool_approved"
	EventToolDenied            = "tool_denied"
	EventToolExec              = "tool_exec"
	EventToolResult            = "tool_result"
	EventWriteBudgetExceeded   = "write_budget_exceeded"
	EventToolloopApprovePrompt = "toolloop_approve_prompt"
)
