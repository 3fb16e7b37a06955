// Package classify maps any error surfaced by a scheduler run to the
// closed set of error kinds from spec §7, by walking sentinel error
// types from the packages that can produce a terminal failure.
package classify

import (
	"errors"
	"net"
	"strings"

	oai "github.com/openai/openai-go/v3"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/northfield-labs/agentloop/pkg/budget"
	"github.com/northfield-labs/agentloop/pkg/config"
	"github.com/northfield-labs/agentloop/pkg/policy"
	"github.com/northfield-labs/agentloop/pkg/provider"
)

// Kind is the closed set of error classes.
type Kind string

const (
	KindConfigMissingEnv Kind = "config_missing_env"
	KindConfigMissingKey Kind = "config_missing_key"
	KindNetwork          Kind = "network"
	KindAuth             Kind = "auth"
	KindModelNotFound    Kind = "model_not_found"
	KindPolicy           Kind = "policy"
	KindBudget           Kind = "budget"
	KindUnknown          Kind = "unknown"
)

// Classify maps err to one Kind. It never returns an empty Kind; an
// unrecognized error classifies as KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var missingEnv *config.MissingEnvError
	if errors.As(err, &missingEnv) {
		return KindConfigMissingEnv
	}

	var missingCreds *provider.MissingCredentialsError
	if errors.As(err, &missingCreds) {
		return KindConfigMissingKey
	}

	var policyErr *policy.Error
	if errors.As(err, &policyErr) {
		return KindPolicy
	}

	var budgetErr *budget.ExceededError
	if errors.As(err, &budgetErr) {
		return KindBudget
	}

	if kind, ok := classifyAPIError(err); ok {
		return kind
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	return classifyByMessage(err.Error())
}

// classifyAPIError inspects the status code carried by the two SDKs'
// error types, when the failure originated from an actual HTTP
// response rather than a local precondition.
func classifyAPIError(err error) (Kind, bool) {
	var oaiErr *oai.Error
	if errors.As(err, &oaiErr) {
		return kindForStatus(oaiErr.StatusCode), true
	}

	var anthErr *anthropic.Error
	if errors.As(err, &anthErr) {
		return kindForStatus(anthErr.StatusCode), true
	}

	return "", false
}

func kindForStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 404:
		return KindModelNotFound
	case status >= 500 || status == 0:
		return KindNetwork
	default:
		return KindUnknown
	}
}

// classifyByMessage is the last-resort heuristic for transport-level
// failures that never reach an HTTP response (DNS failure, connection
// reset) and so never produce a typed SDK error.
func classifyByMessage(msg string) Kind {
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out"):
		return KindNetwork
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401"):
		return KindAuth
	case strings.Contains(lower, "model") && strings.Contains(lower, "not found"):
		return KindModelNotFound
	default:
		return KindUnknown
	}
}
