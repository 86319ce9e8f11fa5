package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"grip/internal/fault"
	"grip/internal/logging"
	"grip/internal/permission"
)

// Registry holds the capability catalog and the bounded execution history.
// Safe for concurrent use.
type Registry struct {
	engine       PermissionGate
	historyLimit int

	mu      sync.RWMutex
	caps    map[string]*Descriptor
	history []Record
}

// PermissionGate is the authorization hook the pipeline consults. Satisfied
// by *permission.Engine.
type PermissionGate interface {
	Request(req permission.Request) bool
}

// NewRegistry builds an empty registry. gate authorizes every invocation
// whose descriptor declares a permission; historyLimit bounds the record
// window (500 when non-positive).
func NewRegistry(gate PermissionGate, historyLimit int) *Registry {
	if historyLimit <= 0 {
		historyLimit = 500
	}
	return &Registry{
		engine:       gate,
		historyLimit: historyLimit,
		caps:         make(map[string]*Descriptor),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

// Register stores a descriptor by name. Re-registering a name overwrites the
// previous descriptor with a logged warning so external capability packs can
// deliberately shadow the built-ins.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid capability: %w", err)
	}
	if d.Category == "" {
		d.Category = CategoryGeneral
	}

	r.mu.Lock()
	_, shadowed := r.caps[d.Name]
	r.caps[d.Name] = d
	r.mu.Unlock()

	if shadowed {
		logging.CapabilityWarn("capability %s re-registered, previous definition overwritten", d.Name)
	} else {
		logging.CapabilityDebug("registered capability %s (category=%s)", d.Name, d.Category)
	}
	return nil
}

// MustRegister registers a descriptor and panics on an invalid one. For
// static registration at composition time.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(fmt.Sprintf("failed to register capability %s: %v", d.Name, err))
	}
}

// Get returns a descriptor by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.caps[name]
	return d, ok
}

// Names returns every registered capability name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Categories returns the categories with at least one capability, sorted.
func (r *Registry) Categories() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Category]bool)
	for _, d := range r.caps {
		seen[d.Category] = true
	}
	cats := make([]Category, 0, len(seen))
	for c := range seen {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// ByCategory returns the capabilities in one category, sorted by name.
func (r *Registry) ByCategory(c Category) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Descriptor
	for _, d := range r.caps {
		if d.Category == c {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

// =============================================================================
// EXECUTION PIPELINE - validate, authorize, execute, record
// =============================================================================

// Execute runs one capability through the full pipeline. It never returns a
// Go error: unknown names, validation failures, denials, and thrown errors
// all ride inside the outcome, and every outcome lands in history.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any, inv Context) Outcome {
	inv.CorrelationID = fault.EnsureCorrelationID(inv.CorrelationID)
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now()
	}
	log := logging.WithCorrelation(logging.CategoryCapability, inv.CorrelationID)
	timer := logging.StartTimer(logging.CategoryCapability, name)
	defer timer.StopWithThreshold(time.Second)

	d, ok := r.Get(name)
	if !ok {
		log.Warn("unknown capability %q requested", name)
		return r.finish(inv, name, input, nil, r.notFound(name))
	}

	if ferr := validateInput(d.Schema, input); ferr != nil {
		log.Warn("input rejected for %s: %s", name, ferr.Message)
		return r.finish(inv, name, input, nil, ferr)
	}

	if d.Permission != nil {
		req := d.Permission(input, inv)
		req.CorrelationID = inv.CorrelationID
		if req.Description == "" {
			req.Description = d.Description
		}
		if !r.engine.Request(req) {
			return r.finish(inv, name, input, nil, fault.Permission(
				fmt.Sprintf("%s permission denied for %s", req.Type, name)))
		}
	}

	data, err := r.invoke(ctx, d, input, inv)
	if err != nil {
		log.Warn("%s failed: %v", name, err)
		return r.finish(inv, name, input, nil, fault.Convert(err))
	}
	log.Debug("%s completed", name)
	return r.finish(inv, name, input, data, nil)
}

// invoke calls the body, converting a panic into an error instead of letting
// it unwind through the pipeline.
func (r *Registry) invoke(ctx context.Context, d *Descriptor, input map[string]any, inv Context) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("capability %s panicked: %v", d.Name, rec)
		}
	}()
	return d.Execute(ctx, input, inv)
}

// finish assembles the outcome, appends the record, and audits it.
func (r *Registry) finish(inv Context, name string, input map[string]any, data any, ferr *fault.AgentError) Outcome {
	durationMs := time.Since(inv.StartedAt).Milliseconds()
	out := Outcome{
		Success: ferr == nil,
		Data:    data,
		Error:   ferr,
		Metadata: Metadata{
			Capability:    name,
			CorrelationID: inv.CorrelationID,
			SessionID:     inv.SessionID,
			StartedAt:     inv.StartedAt,
			DurationMs:    durationMs,
		},
	}

	rec := Record{
		ID:            uuid.NewString(),
		Capability:    name,
		Input:         input,
		CorrelationID: inv.CorrelationID,
		SessionID:     inv.SessionID,
		Success:       out.Success,
		Data:          data,
		StartedAt:     inv.StartedAt,
		DurationMs:    durationMs,
	}
	errMsg := ""
	if ferr != nil {
		rec.ErrorKind = ferr.Kind
		errMsg = ferr.Error()
	}

	r.mu.Lock()
	r.history = append(r.history, rec)
	if len(r.history) > r.historyLimit {
		r.history = r.history[len(r.history)-r.historyLimit:]
	}
	r.mu.Unlock()

	logging.AuditWithSession(inv.SessionID).CapabilityOutcome(inv.CorrelationID, name, durationMs, out.Success, errMsg)
	return out
}

// notFound ranks registered names by similarity to the requested one. When
// nothing is close the whole catalog is offered instead.
func (r *Registry) notFound(name string) *fault.AgentError {
	names := r.Names()
	matches := fuzzy.Find(name, names)
	if len(matches) == 0 {
		return fault.NotFound(name, names)
	}
	top := make([]string, 0, 3)
	for i, m := range matches {
		if i == 3 {
			break
		}
		top = append(top, m.Str)
	}
	return fault.NotFound(name, top)
}

// validateInput checks input against the declared shape and reports every
// violation in one message.
func validateInput(schema Schema, input map[string]any) *fault.AgentError {
	var problems []string

	for _, field := range schema.Required {
		if _, ok := input[field]; !ok {
			problems = append(problems, fmt.Sprintf("missing required field %q", field))
		}
	}

	for field, value := range input {
		prop, declared := schema.Properties[field]
		if !declared {
			problems = append(problems, fmt.Sprintf("unknown field %q", field))
			continue
		}
		if !typeMatches(prop.Type, value) {
			problems = append(problems, fmt.Sprintf("field %q must be a %s", field, prop.Type))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fault.Validation(strings.Join(problems, "; "))
}

// typeMatches accepts a value for a declared primitive type. Number checks
// accept float64 alongside the int types so JSON-decoded input works.
func typeMatches(declared string, value any) bool {
	if value == nil {
		return false
	}
	switch declared {
	case "", "any":
		return true
	case "string":
		_, ok := value.(string)
		return ok
	case "integer", "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		switch value.(type) {
		case []any, []string:
			return true
		}
		return false
	default:
		return true
	}
}

// =============================================================================
// HISTORY & STATS
// =============================================================================

// History returns a copy of the recorded window, oldest first.
func (r *Registry) History() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, len(r.history))
	copy(out, r.history)
	return out
}

// Stats derives aggregates from the recorded window.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Window:       len(r.history),
		ByCapability: make(map[string]int),
		ByErrorKind:  make(map[fault.Kind]int),
	}
	for _, rec := range r.history {
		stats.ByCapability[rec.Capability]++
		if rec.Success {
			stats.Successes++
		} else {
			stats.Failures++
			stats.ByErrorKind[rec.ErrorKind]++
		}
	}
	if stats.Window > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Window)
	}
	return stats
}
