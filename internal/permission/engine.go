package permission

import (
	"fmt"
	"sync"
	"time"

	"grip/internal/config"
	"grip/internal/logging"
)

// Engine evaluates permission requests against the ordered rule sets.
// Safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	deny    []denyRule
	auto    []autoGrantRule
	grants  map[grantKey]*Grant
	tempTTL time.Duration
	decider Decider
}

// NewEngine compiles the configured rule sets. Invalid patterns fail
// construction rather than being skipped at decision time.
func NewEngine(cfg config.PermissionsConfig) (*Engine, error) {
	deny, err := compileDenyRules(cfg.DenyRules)
	if err != nil {
		return nil, fmt.Errorf("compiling deny rules: %w", err)
	}
	auto, err := compileAutoGrantRules(cfg.AutoGrant)
	if err != nil {
		return nil, fmt.Errorf("compiling auto-grant rules: %w", err)
	}

	ttl, err := time.ParseDuration(cfg.TemporaryGrantTTL)
	if err != nil || ttl <= 0 {
		ttl = 5 * time.Minute
	}

	logging.Permission("engine ready: %d deny rules, %d auto-grant rules, temp ttl %s",
		len(deny), len(auto), ttl)

	return &Engine{
		deny:    deny,
		auto:    auto,
		grants:  make(map[grantKey]*Grant),
		tempTTL: ttl,
		decider: PermissiveDecider{},
	}, nil
}

// SetDecider replaces the fallback decider. Pass nil to restore the
// permissive default.
func (e *Engine) SetDecider(d Decider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d == nil {
		d = PermissiveDecider{}
	}
	e.decider = d
}

// Request decides one authorization. The rule order is fixed: deny patterns,
// then a stored non-expired grant for the same (type, correlation id), then
// auto-grant patterns, then the fallback decider. Every decision is logged
// and audited under the request's correlation id.
func (e *Engine) Request(req Request) bool {
	log := logging.WithCorrelation(logging.CategoryPermission, req.CorrelationID)
	audit := logging.AuditWithCorrelation("", req.CorrelationID)

	e.mu.Lock()
	defer e.mu.Unlock()

	// 1. Always-deny patterns short-circuit everything else.
	for _, rule := range e.deny {
		if rule.matches(req) {
			log.Warn("denied by rule %q: type=%s target=%s", rule.name, req.Type, req.target())
			audit.PermissionDecision(req.CorrelationID, string(req.Type), req.target(), false, false, "deny:"+rule.name)
			return false
		}
	}

	key := grantKey{typ: req.Type, corrID: req.CorrelationID}

	// 2. A stored grant for the same (type, correlation id) is reused as-is.
	// Expired grants are deleted and the request re-evaluated from here down.
	if g, ok := e.grants[key]; ok {
		if g.Expired() {
			delete(e.grants, key)
			log.Debug("stored grant %s expired, re-evaluating", g.ID)
		} else {
			log.Debug("reusing grant %s (granted=%v)", g.ID, g.Granted)
			return g.Granted
		}
	}

	// 3. Auto-grant patterns synthesize and persist a grant.
	for _, rule := range e.auto {
		if rule.matches(req) {
			g := newGrant(req, true, true, e.tempTTL)
			e.grants[key] = g
			log.Info("auto-granted %s for %s", req.Type, req.target())
			audit.PermissionDecision(req.CorrelationID, string(req.Type), req.target(), true, true, "auto")
			return true
		}
	}

	// 4. Fallback decision; recorded as non-auto-granted either way.
	granted := e.decider.Decide(req)
	e.grants[key] = newGrant(req, granted, false, e.tempTTL)
	if granted {
		log.Info("granted %s for %s (fallback)", req.Type, req.target())
	} else {
		log.Warn("denied %s for %s (fallback)", req.Type, req.target())
	}
	audit.PermissionDecision(req.CorrelationID, string(req.Type), req.target(), granted, false, "fallback")
	return granted
}

// RevokeAllGrants clears every stored grant immediately, expired or not.
func (e *Engine) RevokeAllGrants() {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.grants)
	e.grants = make(map[grantKey]*Grant)
	logging.Permission("revoked all grants (%d)", n)
}

// GrantCount returns the number of stored grants, expired included.
func (e *Engine) GrantCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.grants)
}

// Grants returns a snapshot of stored grants.
func (e *Engine) Grants() []*Grant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Grant, 0, len(e.grants))
	for _, g := range e.grants {
		copied := *g
		out = append(out, &copied)
	}
	return out
}
