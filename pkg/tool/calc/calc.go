// Package calc implements the calculator tool from spec §4.2: a
// grammar-gated arithmetic evaluator. Inputs that contain anything
// outside the digit/operator/paren/whitespace grammar are rejected
// before any evaluation is attempted.
package calc

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/northfield-labs/agentloop/pkg/tool"
)

var grammar = regexp.MustCompile(`^[0-9+\-*/().\s]+$`)

// Result is the calculator tool's result payload.
type Result struct {
	Expression string  `json:"expression"`
	Value      float64 `json:"value"`
}

// Tool returns the calculator tool.
func Tool() tool.Tool {
	return tool.Tool{
		Name:        "calculator",
		Description: "Evaluate an arithmetic expression containing digits, + - * / ( ) and whitespace only.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{"type": "string", "description": "Arithmetic expression to evaluate"},
			},
			"required":             []string{"expression"},
			"additionalProperties": false,
		},
		Execute: func(ctx context.Context, env *tool.Environment, args map[string]any) (any, error) {
			expr, ok := args["expression"].(string)
			if !ok || expr == "" {
				return nil, fmt.Errorf("expression is required")
			}

			if !grammar.MatchString(expr) {
				return nil, fmt.Errorf("calculator: expression contains disallowed characters")
			}

			value, err := Evaluate(expr)
			if err != nil {
				return nil, fmt.Errorf("calculator: %w", err)
			}

			return Result{Expression: expr, Value: value}, nil
		},
	}
}

// Evaluate parses and evaluates an arithmetic expression using a small
// recursive-descent parser over +, -, *, /, parentheses, and unary
// minus. Callers are expected to have already checked the expression
// against the grammar regexp; Evaluate itself only guards against
// malformed structure (unbalanced parens, empty operands, divide by
// zero).
func Evaluate(expr string) (float64, error) {
	p := &parser{tokens: tokenize(expr)}

	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.tokens) {
		return 0, fmt.Errorf("unexpected token %q", p.tokens[p.pos])
	}

	return value, nil
}

func tokenize(expr string) []string {
	var tokens []string
	var num strings.Builder

	flush := func() {
		if num.Len() > 0 {
			tokens = append(tokens, num.String())
			num.Reset()
		}
	}

	for _, r := range expr {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsDigit(r) || r == '.':
			num.WriteRune(r)
		default:
			flush()
			tokens = append(tokens, string(r))
		}
	}
	flush()

	return tokens
}

type parser struct {
	tokens []string
	pos    int
}

func (p *parser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *parser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

// parseExpr handles + and - at the lowest precedence.
func (p *parser) parseExpr() (float64, error) {
	value, err := p.parseTerm()
	if err != nil {
		return 0, err
	}

	for {
		switch p.peek() {
		case "+":
			p.next()
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			value += rhs
		case "-":
			p.next()
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			value -= rhs
		default:
			return value, nil
		}
	}
}

// parseTerm handles * and /.
func (p *parser) parseTerm() (float64, error) {
	value, err := p.parseUnary()
	if err != nil {
		return 0, err
	}

	for {
		switch p.peek() {
		case "*":
			p.next()
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			value *= rhs
		case "/":
			p.next()
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			value /= rhs
		default:
			return value, nil
		}
	}
}

// parseUnary handles a leading unary minus/plus.
func (p *parser) parseUnary() (float64, error) {
	switch p.peek() {
	case "-":
		p.next()
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -value, nil
	case "+":
		p.next()
		return p.parseUnary()
	default:
		return p.parseAtom()
	}
}

// parseAtom handles a number or a parenthesized sub-expression.
func (p *parser) parseAtom() (float64, error) {
	tok := p.next()

	if tok == "(" {
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.next() != ")" {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		return value, nil
	}

	value, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("expected number, got %q", tok)
	}

	return value, nil
}
