// Package fault defines the closed error taxonomy shared by every grip
// component, plus correlation id generation. Failures that the planning loop
// is expected to reason over (bad input, denied permission, a capability body
// blowing up, exceeded budgets) are represented as *AgentError values carried
// inside structured results; they are never propagated as thrown errors.
// Plain Go errors remain reserved for genuine infrastructure failure.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure into the closed taxonomy.
type Kind string

const (
	// KindValidation marks bad input shape. Recoverable: fix the input and retry.
	KindValidation Kind = "validation"

	// KindPermission marks an authorization denial. Non-recoverable for that call.
	KindPermission Kind = "permission"

	// KindExecution marks a capability body failure. Recoverable, often transient.
	KindExecution Kind = "execution"

	// KindTimeout marks an exceeded time budget. The command result itself
	// reports interrupted=true; this kind appears only when a timeout has to
	// be surfaced as an error value.
	KindTimeout Kind = "timeout"

	// KindSystem marks an unknown capability name or an infrastructure
	// failure during session construction.
	KindSystem Kind = "system"

	// KindQueueDiscarded marks a request that was queued behind a session
	// whose backing process died before the request started. Recoverable:
	// resubmit on the replacement session.
	KindQueueDiscarded Kind = "queue_discarded"
)

// AgentError is a structured failure with enough context for the caller to
// act on it without inspecting stacks.
type AgentError struct {
	Kind        Kind     `json:"kind"`
	Message     string   `json:"message"`
	Recoverable bool     `json:"recoverable"`
	Suggestions []string `json:"suggestions,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any, for errors.Is/As chains.
func (e *AgentError) Unwrap() error {
	return e.cause
}

// WithSuggestions appends recovery hints and returns the same error.
func (e *AgentError) WithSuggestions(hints ...string) *AgentError {
	e.Suggestions = append(e.Suggestions, hints...)
	return e
}

// Validation builds a validation-kind error. detail should name the offending
// field(s) so the caller can repair the input.
func Validation(detail string) *AgentError {
	return &AgentError{
		Kind:        KindValidation,
		Message:     detail,
		Recoverable: true,
		Suggestions: []string{"fix the named input field(s) and retry"},
	}
}

// Validationf builds a validation-kind error with formatting.
func Validationf(format string, args ...any) *AgentError {
	return Validation(fmt.Sprintf(format, args...))
}

// Permission builds a permission-kind error for a denied request.
func Permission(detail string) *AgentError {
	return &AgentError{
		Kind:        KindPermission,
		Message:     detail,
		Recoverable: false,
		Suggestions: []string{
			"the request was denied by policy",
			"review the deny rules or request a different scope",
		},
	}
}

// Execution wraps a failure thrown by a capability body.
func Execution(err error) *AgentError {
	return &AgentError{
		Kind:        KindExecution,
		Message:     err.Error(),
		Recoverable: true,
		Suggestions: []string{"the failure may be transient; retry or adjust the input"},
		cause:       err,
	}
}

// Timeout builds a timeout-kind error naming the exceeded budget.
func Timeout(budget string) *AgentError {
	return &AgentError{
		Kind:        KindTimeout,
		Message:     fmt.Sprintf("budget of %s exceeded", budget),
		Recoverable: true,
		Suggestions: []string{"retry with a larger timeout"},
	}
}

// System builds a system-kind error.
func System(detail string) *AgentError {
	return &AgentError{
		Kind:        KindSystem,
		Message:     detail,
		Recoverable: false,
	}
}

// Systemf builds a system-kind error with formatting.
func Systemf(format string, args ...any) *AgentError {
	return System(fmt.Sprintf(format, args...))
}

// NotFound builds the system-kind error for an unknown capability name.
// candidates lists the names to offer instead. The registry passes the
// closest fuzzy matches first, or every registered name when nothing is
// close.
func NotFound(requested string, candidates []string) *AgentError {
	e := Systemf("capability %q is not registered", requested)
	if len(candidates) == 0 {
		e.Suggestions = []string{"no capabilities are registered yet"}
		return e
	}
	e.Suggestions = []string{"try one of: " + strings.Join(candidates, ", ")}
	return e
}

// QueueDiscarded builds the error delivered to requests that were still
// queued when their session's backing process was replaced.
func QueueDiscarded(sessionID string) *AgentError {
	return &AgentError{
		Kind:        KindQueueDiscarded,
		Message:     fmt.Sprintf("session %q was replaced before this request started", sessionID),
		Recoverable: true,
		Suggestions: []string{"the session process died and was replaced; resubmit the command"},
	}
}

// Convert coerces any error into an *AgentError. Errors that already carry a
// kind pass through unchanged; everything else becomes execution-kind.
func Convert(err error) *AgentError {
	if err == nil {
		return nil
	}
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae
	}
	return Execution(err)
}
