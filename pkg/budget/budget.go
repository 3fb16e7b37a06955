// Package budget implements the scheduler's budget ledger: a pure
// functional accounting of steps, tool calls, and token usage against
// a fixed set of limits. Every operation returns a new Ledger; none
// mutates its receiver, so a ledger can be threaded safely through a
// sequential loop without any shared mutable counters.
package budget

import (
	"fmt"

	"github.com/northfield-labs/agentloop/pkg/policy"
)

// Limits bounds a scheduler run. MaxSteps and MaxToolCalls are
// required; the rest are optional caps (zero means unlimited).
type Limits struct {
	MaxSteps     int
	MaxToolCalls int

	MaxTotalTokens  int
	MaxInputTokens  int
	MaxOutputTokens int

	MaxReads  int
	MaxWrites int
}

// normalize clamps every field to a non-negative integer.
func (l Limits) normalize() Limits {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		return v
	}

	return Limits{
		MaxSteps:        clamp(l.MaxSteps),
		MaxToolCalls:    clamp(l.MaxToolCalls),
		MaxTotalTokens:  clamp(l.MaxTotalTokens),
		MaxInputTokens:  clamp(l.MaxInputTokens),
		MaxOutputTokens: clamp(l.MaxOutputTokens),
		MaxReads:        clamp(l.MaxReads),
		MaxWrites:       clamp(l.MaxWrites),
	}
}

// Ledger is the immutable state of one scheduler run's budget.
type Ledger struct {
	Limits Limits

	StepsUsed     int
	ToolCallsUsed int
	ReadsUsed     int
	WritesUsed    int

	TotalTokensUsed  int
	InputTokensUsed  int
	OutputTokensUsed int
}

// Create builds the initial Ledger for a run, normalizing limits to
// non-negative integers.
func Create(limits Limits) Ledger {
	return Ledger{Limits: limits.normalize()}
}

// ExceededError reports that a booking operation's pre-check failed.
// The scheduler must check before booking; this error is never meant
// to be recovered from mid-flight.
type ExceededError struct {
	Reason string
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget: %s", e.Reason)
}

// CanCallModel reports whether another model call is permitted: steps
// remain, and every configured token cap is still strictly unmet.
func (l Ledger) CanCallModel() bool {
	if l.StepsUsed >= l.Limits.MaxSteps {
		return false
	}
	if l.Limits.MaxTotalTokens > 0 && l.TotalTokensUsed >= l.Limits.MaxTotalTokens {
		return false
	}
	if l.Limits.MaxInputTokens > 0 && l.InputTokensUsed >= l.Limits.MaxInputTokens {
		return false
	}
	if l.Limits.MaxOutputTokens > 0 && l.OutputTokensUsed >= l.Limits.MaxOutputTokens {
		return false
	}
	return true
}

// CanCallTool reports whether another tool call of the given kind is
// permitted: the aggregate tool-call cap remains, and the kind-specific
// cap (reads or writes), if any, is not yet met.
func (l Ledger) CanCallTool(kind policy.Kind) bool {
	if l.ToolCallsUsed >= l.Limits.MaxToolCalls {
		return false
	}

	switch kind {
	case policy.KindRead:
		if l.Limits.MaxReads > 0 && l.ReadsUsed >= l.Limits.MaxReads {
			return false
		}
	case policy.KindWrite:
		if l.Limits.MaxWrites > 0 && l.WritesUsed >= l.Limits.MaxWrites {
			return false
		}
	}

	return true
}

// BookModelCall returns a new Ledger with StepsUsed incremented. It
// requires CanCallModel; callers must check first.
func (l Ledger) BookModelCall() (Ledger, error) {
	if !l.CanCallModel() {
		return l, &ExceededError{Reason: "model call refused: steps or token cap exhausted"}
	}
	next := l
	next.StepsUsed++
	return next, nil
}

// BookToolCall returns a new Ledger with ToolCallsUsed and the
// kind-specific counter incremented. It requires CanCallTool(kind).
func (l Ledger) BookToolCall(kind policy.Kind) (Ledger, error) {
	if !l.CanCallTool(kind) {
		return l, &ExceededError{Reason: fmt.Sprintf("tool call refused: %s cap exhausted", kind)}
	}

	next := l
	next.ToolCallsUsed++

	switch kind {
	case policy.KindRead:
		next.ReadsUsed++
	case policy.KindWrite:
		next.WritesUsed++
	}

	return next, nil
}

// Usage is the minimal token-accounting shape BookUsage accumulates.
// It mirrors provider.Usage without importing it, so the ledger has no
// dependency on the provider package.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// BookUsage accumulates token usage unconditionally — it is legal for
// the post-booking state to exceed a cap, since the model call already
// happened; this only forbids the *next* model call via CanCallModel.
func (l Ledger) BookUsage(u Usage) Ledger {
	next := l
	next.InputTokensUsed += u.InputTokens
	next.OutputTokensUsed += u.OutputTokens
	next.TotalTokensUsed += u.TotalTokens
	return next
}
