// Package permission decides authorization for capability invocations using
// ordered rule sets: always-deny patterns first, then stored grants keyed by
// (type, correlation id), then auto-grant patterns, then an injectable
// fallback decider. Deny always wins; expired grants are inert.
package permission

import (
	"time"

	"github.com/google/uuid"
)

// Type names the kind of side effect a capability wants to perform.
// Capabilities may declare types beyond these constants.
type Type string

const (
	TypeExecute Type = "execute"
	TypeRead    Type = "read"
	TypeWrite   Type = "write"
)

// Scope bounds where a permission applies.
type Scope string

const (
	ScopeProject   Scope = "project-only"
	ScopeSystem    Scope = "system-wide"
	ScopePath      Scope = "specific-path"
	ScopeTemporary Scope = "temporary"
)

// Request asks for one authorization decision.
type Request struct {
	Type          Type   `json:"type"`
	Scope         Scope  `json:"scope"`
	Path          string `json:"path,omitempty"`
	Command       string `json:"command,omitempty"`
	Description   string `json:"description"`
	CorrelationID string `json:"correlationId"`
}

// target returns the most specific text describing what the request touches,
// used for logging and audit.
func (r Request) target() string {
	if r.Command != "" {
		return r.Command
	}
	if r.Path != "" {
		return r.Path
	}
	return r.Description
}

// Grant is a stored authorization decision. Granted may be false: a stored
// denial is reused just like a stored approval.
type Grant struct {
	ID          string    `json:"id"`
	Request     Request   `json:"request"`
	Granted     bool      `json:"granted"`
	Timestamp   time.Time `json:"timestamp"`
	Expiry      time.Time `json:"expiry,omitempty"`
	AutoGranted bool      `json:"autoGranted"`
}

// Expired reports whether the grant's window has passed. Grants without an
// expiry never expire.
func (g *Grant) Expired() bool {
	return !g.Expiry.IsZero() && time.Now().After(g.Expiry)
}

func newGrant(req Request, granted, auto bool, ttl time.Duration) *Grant {
	g := &Grant{
		ID:          uuid.NewString(),
		Request:     req,
		Granted:     granted,
		Timestamp:   time.Now(),
		AutoGranted: auto,
	}
	if req.Scope == ScopeTemporary {
		g.Expiry = g.Timestamp.Add(ttl)
	}
	return g
}

// grantKey identifies the slot a grant is stored under: one decision per
// (type, correlation id) pair.
type grantKey struct {
	typ    Type
	corrID string
}

// Decider is the fallback hook consulted when no rule or stored grant
// resolves a request. An interactive deployment splices a prompt in here.
type Decider interface {
	Decide(req Request) bool
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(req Request) bool

// Decide implements Decider.
func (f DeciderFunc) Decide(req Request) bool { return f(req) }

// PermissiveDecider grants everything that reaches the fallback. It is the
// shipped default for non-interactive use.
type PermissiveDecider struct{}

// Decide implements Decider.
func (PermissiveDecider) Decide(Request) bool { return true }
