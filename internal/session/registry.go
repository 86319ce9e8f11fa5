package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"grip/internal/config"
	"grip/internal/logging"
)

// Options configures a session at first construction. Later Get calls for
// the same id ignore them.
type Options struct {
	// Workdir is the session's starting directory. Defaults to the process
	// working directory.
	Workdir string

	// Env seeds the session's exported variables.
	Env map[string]string

	// DefaultTimeout overrides the configured per-command default.
	DefaultTimeout time.Duration
}

// SessionStats is one session's slice of the registry view.
type SessionStats struct {
	ID           string    `json:"id"`
	Workdir      string    `json:"workdir"`
	QueueDepth   int       `json:"queue_depth"`
	CommandCount int64     `json:"command_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used"`
	Healthy      bool      `json:"healthy"`
}

// RegistryStats aggregates the registry's current view.
type RegistryStats struct {
	ActiveSessions int            `json:"active_sessions"`
	TotalCommands  int64          `json:"total_commands"`
	Sessions       []SessionStats `json:"sessions"`
}

// Registry owns every live session, keyed by id. Get is the only way to
// obtain one: it builds sessions lazily, hands back healthy ones, and
// replaces dead ones under its own lock so no two live backing processes can
// ever share an id.
type Registry struct {
	mu              sync.Mutex
	cfg             *config.Config
	sessions        map[string]*Session
	retiredCommands int64

	healthTicker *time.Ticker
	stopCh       chan struct{}
	loopDone     chan struct{}
	started      bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, constructing it on first reference and
// replacing it when its health check fails. The returned session is healthy
// at the moment of return.
func (r *Registry) Get(id string, opts Options) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		if s.Healthy() {
			return s, nil
		}
		logging.SessionWarn("session %s unhealthy, replacing", id)
		logging.AuditWithSession(id).SessionReplace(id, "health check failed")
		r.retiredCommands += s.CommandCount()
		if err := s.Close(); err != nil {
			logging.SessionWarn("session %s: close during replace: %v", id, err)
		}
		delete(r.sessions, id)
	}

	s, err := newSession(id, opts, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", id, err)
	}
	r.sessions[id] = s
	return s, nil
}

// Close tears down one session. Unknown ids are a no-op.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.retiredCommands += s.CommandCount()
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// CloseAll tears down every session concurrently and reports the first
// failure.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
		r.retiredCommands += s.CommandCount()
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(s.Close)
	}
	return g.Wait()
}

// IDs returns the live session ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats reports active sessions and command totals. Commands run on sessions
// that have since been closed or replaced stay in the total.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{
		ActiveSessions: len(r.sessions),
		TotalCommands:  r.retiredCommands,
	}
	for _, s := range r.sessions {
		stats.TotalCommands += s.CommandCount()
		stats.Sessions = append(stats.Sessions, s.stats())
	}
	sort.Slice(stats.Sessions, func(i, j int) bool {
		return stats.Sessions[i].ID < stats.Sessions[j].ID
	})
	return stats
}

// StartHealthLoop begins periodic liveness probes. A session whose process
// has gone away is marked unhealthy so the next Get replaces it.
func (r *Registry) StartHealthLoop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}
	r.healthTicker = time.NewTicker(r.cfg.HealthInterval())
	r.stopCh = make(chan struct{})
	r.loopDone = make(chan struct{})
	r.started = true

	go r.healthLoop(r.healthTicker, r.stopCh, r.loopDone)
	logging.Session("registry health loop started: interval=%s", r.cfg.HealthInterval())
}

// StopHealthLoop halts the probes. Idempotent.
func (r *Registry) StopHealthLoop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	ticker, stopCh, done := r.healthTicker, r.stopCh, r.loopDone
	r.mu.Unlock()

	ticker.Stop()
	close(stopCh)
	<-done
	logging.Session("registry health loop stopped")
}

func (r *Registry) healthLoop(ticker *time.Ticker, stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			r.probeSessions()
		}
	}
}

// probeSessions checks each session's backing process. The per-session
// monitor usually notices a death first; the probe catches anything it
// missed and gives operators a periodic liveness line.
func (r *Registry) probeSessions() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if !s.probeProcess() {
			logging.SessionWarn("session %s failed liveness probe", s.ID)
		}
	}
}
