// Package problem defines the structured error taxonomy shared by every
// fallible operation: a stable machine code, a category, structured details,
// and where possible a remediation hint. Fallible operations return a
// Problem-wrapping error instead of raising; truly unrecoverable failures
// use ordinary errors.
package problem

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Category classifies a problem for propagation policy.
type Category string

const (
	CategoryConfig     Category = "config"
	CategoryPolicy     Category = "policy"
	CategoryRuntime    Category = "runtime"
	CategoryDependency Category = "dependency"
	CategoryInternal   Category = "internal"
)

// Exit codes exposed to CLI wrappers.
const (
	ExitOK              = 0
	ExitConfigInvalid   = 10
	ExitPolicyRejected  = 20
	ExitRuntimeError    = 30
	ExitDependencyError = 40
	ExitInternalError   = 50
)

// ExitCode maps a category to its process exit code.
func ExitCode(c Category) int {
	switch c {
	case CategoryConfig:
		return ExitConfigInvalid
	case CategoryPolicy:
		return ExitPolicyRejected
	case CategoryRuntime:
		return ExitRuntimeError
	case CategoryDependency:
		return ExitDependencyError
	default:
		return ExitInternalError
	}
}

// Problem is a structured, machine-readable error surfaced to callers and
// rendered as JSON in non-interactive contexts.
type Problem struct {
	Code        string         `json:"code"` // stable machine code, e.g. "POLICY_THRESHOLD_EXCEEDED"
	Category    Category       `json:"category"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Remediation string         `json:"remediation,omitempty"`
}

// Error implements error.
func (p *Problem) Error() string {
	return fmt.Sprintf("%s (%s): %s", p.Code, p.Category, p.Message)
}

// JSON renders the problem as an indented JSON object.
func (p *Problem) JSON() string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"code":%q,"category":%q,"message":%q}`, p.Code, p.Category, p.Message)
	}
	return string(data)
}

// New builds a Problem error.
func New(code string, category Category, message string) *Problem {
	return &Problem{Code: code, Category: category, Message: message}
}

// WithDetails attaches structured details.
func (p *Problem) WithDetails(details map[string]any) *Problem {
	p.Details = details
	return p
}

// WithRemediation attaches an actionable next step.
func (p *Problem) WithRemediation(hint string) *Problem {
	p.Remediation = hint
	return p
}

// From extracts a Problem from err, or wraps err as an internal problem
// so unanticipated failures still carry the taxonomy.
func From(err error) *Problem {
	var p *Problem
	if errors.As(err, &p) {
		return p
	}
	return &Problem{
		Code:     "INTERNAL_ERROR",
		Category: CategoryInternal,
		Message:  err.Error(),
	}
}
