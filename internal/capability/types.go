// Package capability catalogs the named operations the agent may invoke and
// runs every invocation through one pipeline: validate the input against the
// declared shape, authorize through the permission engine, execute the body
// with panic containment, and record the outcome in bounded history. Execute
// never returns a Go error; failures ride inside the outcome so the caller
// can reason over them uniformly.
package capability

import (
	"context"
	"time"

	"grip/internal/fault"
	"grip/internal/permission"
)

// Category groups capabilities for listing and filtering.
type Category string

const (
	CategoryShell   Category = "shell"
	CategoryFile    Category = "file"
	CategorySearch  Category = "search"
	CategoryGeneral Category = "general"
)

// Property describes one input field in a capability's declared shape.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// Schema declares the input a capability accepts. Required fields must be
// present; typed properties must carry the declared primitive type. Fields
// not named in Properties are rejected.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// Context identifies one invocation. Callers fill SessionID and Workdir;
// the registry assigns the correlation id and start time if absent.
type Context struct {
	SessionID     string
	CorrelationID string
	Workdir       string
	StartedAt     time.Time
}

// ExecuteFunc is a capability body. It receives validated input and the
// invocation context, and returns arbitrary result data. A returned
// *fault.AgentError passes through unchanged; any other error (or a panic)
// becomes an execution-kind failure.
type ExecuteFunc func(ctx context.Context, input map[string]any, inv Context) (any, error)

// PermissionFunc builds the authorization request for one invocation from
// the validated input. The registry fills in the correlation id.
type PermissionFunc func(input map[string]any, inv Context) permission.Request

// Descriptor declares one capability.
type Descriptor struct {
	// Name is the unique invocation key.
	Name string

	// Description explains what the capability does.
	Description string

	// Category classifies the capability for listing.
	Category Category

	// Schema declares the expected input.
	Schema Schema

	// Output declares the result payload for catalog introspection, for
	// callers that turn descriptors into tool declarations. Nil leaves the
	// output undeclared; it is never validated.
	Output *Schema

	// Permission builds the authorization request checked before the body
	// runs. Nil skips the permission gate (read-only introspection).
	Permission PermissionFunc

	// Execute runs the capability.
	Execute ExecuteFunc
}

// Validate checks the descriptor is usable.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return ErrNameEmpty
	}
	if d.Execute == nil {
		return ErrExecuteNil
	}
	return nil
}

// Metadata identifies and times an invocation.
type Metadata struct {
	Capability    string    `json:"capability"`
	CorrelationID string    `json:"correlationId"`
	SessionID     string    `json:"sessionId,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	DurationMs    int64     `json:"durationMs"`
}

// Outcome is the uniform result of one invocation. Exactly one of Data and
// Error is meaningful; Success mirrors Error == nil.
type Outcome struct {
	Success  bool              `json:"success"`
	Data     any               `json:"data,omitempty"`
	Error    *fault.AgentError `json:"error,omitempty"`
	Metadata Metadata          `json:"metadata"`
}

// Record is one entry in the bounded execution history. It keeps the input
// and result payload alongside the identifiers so a window of recent
// invocations can be replayed or inspected without a separate store.
type Record struct {
	ID            string         `json:"id"`
	Capability    string         `json:"capability"`
	Input         map[string]any `json:"input,omitempty"`
	CorrelationID string         `json:"correlationId"`
	SessionID     string         `json:"sessionId,omitempty"`
	Success       bool           `json:"success"`
	Data          any            `json:"data,omitempty"`
	ErrorKind     fault.Kind     `json:"errorKind,omitempty"`
	StartedAt     time.Time      `json:"startedAt"`
	DurationMs    int64          `json:"durationMs"`
}

// Stats summarize the recorded history window. All values are derived on
// read; nothing is counted twice.
type Stats struct {
	Window       int                `json:"window"`
	Successes    int                `json:"successes"`
	Failures     int                `json:"failures"`
	SuccessRate  float64            `json:"successRate"`
	ByCapability map[string]int     `json:"byCapability"`
	ByErrorKind  map[fault.Kind]int `json:"byErrorKind"`
}
