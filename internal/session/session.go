// Package session owns the persistent shell substrate: one long-lived shell
// process per session id, a strict FIFO command queue per session, and the
// registry that creates, health-checks, and replaces sessions.
//
// Nothing is ever parsed off the live shell's own streams. Each command is
// wrapped in a generated script that captures stdout, stderr, the exit code,
// and the resulting working directory into private per-command files; the
// exit-code file becoming non-empty is the completion signal. A command that
// outlives its budget gets its process group killed and a synthesized result
// with Interrupted set, after which the session respawns its shell in place
// with the working directory and exports restored, so queued siblings keep
// running untouched.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"grip/internal/config"
	"grip/internal/fault"
	"grip/internal/logging"
)

var (
	// ErrSessionClosed is returned for requests submitted to, or still
	// pending on, an explicitly closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrProcessDied is returned to the in-flight caller when the backing
	// shell exits in the middle of a command.
	ErrProcessDied = errors.New("session process exited unexpectedly")
)

// pending is one accepted request waiting for its turn on the worker.
type pending struct {
	req  Request
	ctx  context.Context
	done chan struct{}
	once sync.Once
	res  *Result
	err  error
}

// settle records the outcome exactly once, no matter who reports it first.
func (p *pending) settle(res *Result, err error) {
	p.once.Do(func() {
		p.res = res
		p.err = err
		close(p.done)
	})
}

// Session is one persistent shell with a FIFO command queue. Construct
// sessions through the Registry; it is the sole owner of their lifecycle.
type Session struct {
	ID string

	cfg            *config.Config
	defaultTimeout time.Duration
	ipcDir         string
	watcher        *completionWatcher

	mu           sync.Mutex
	workdir      string
	env          map[string]string
	history      []*Result
	commandCount int64
	createdAt    time.Time
	lastUsed     time.Time
	healthy      bool
	closed       bool

	queue      chan *pending
	closeCh    chan struct{}
	workerDone chan struct{}

	procMu          sync.Mutex
	cmd             *exec.Cmd
	stdin           io.WriteCloser
	procDead        chan struct{}
	monitorDone     chan struct{}
	intentionalKill atomic.Bool

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

func newSession(id string, opts Options, cfg *config.Config) (*Session, error) {
	workdir := opts.Workdir
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		workdir = wd
	}

	ipcDir, err := os.MkdirTemp("", "grip-"+pathSafe(id)+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create IPC directory: %w", err)
	}

	defaultTimeout := opts.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = cfg.DefaultShellTimeout()
	}

	s := &Session{
		ID:             id,
		cfg:            cfg,
		defaultTimeout: defaultTimeout,
		ipcDir:         ipcDir,
		workdir:        workdir,
		env:            make(map[string]string),
		createdAt:      time.Now(),
		lastUsed:       time.Now(),
		healthy:        true,
		queue:          make(chan *pending, cfg.Sessions.QueueCapacity),
		closeCh:        make(chan struct{}),
		workerDone:     make(chan struct{}),
		cancels:        make(map[string]context.CancelFunc),
	}
	for k, v := range opts.Env {
		s.env[k] = v
	}

	s.watcher = newCompletionWatcher(ipcDir, cfg.PollInterval())

	if err := s.spawn(); err != nil {
		s.watcher.Close()
		os.RemoveAll(ipcDir)
		return nil, err
	}

	go s.worker()

	logging.Session("session %s spawned: shell=%s workdir=%s", id, cfg.Shell.Binary, workdir)
	logging.AuditWithSession(id).SessionSpawn(id, workdir)
	return s, nil
}

// Exec submits one command and blocks until its Result settles. Syntax
// failures and interrupts come back as completed Results; a returned error
// means the substrate itself failed: the session was closed, its process
// died under the command, or IPC file I/O broke.
func (s *Session) Exec(ctx context.Context, req Request) (*Result, error) {
	req.CorrelationID = fault.EnsureCorrelationID(req.CorrelationID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.lastUsed = time.Now()
	s.mu.Unlock()

	for k := range req.Env {
		if !envKeyPattern.MatchString(k) {
			res := &Result{
				CorrelationID: req.CorrelationID,
				ExitCode:      ExitSyntaxReject,
				Stderr:        fmt.Sprintf("invalid environment variable name %q\n", k),
			}
			s.recordResult(req, res)
			return res, nil
		}
	}

	// Syntax gate: a short-lived shell parses the exact script the live one
	// would source, so malformed input never reaches the session process.
	ch := newIPCChannel(s.ipcDir, req.CorrelationID)
	if err := ch.writeScript(req); err != nil {
		return nil, fmt.Errorf("failed to write command script: %w", err)
	}
	ok, message, err := checkSyntax(ctx, s.cfg.Shell.Binary, ch.scriptPath())
	if err != nil {
		return nil, err
	}
	if !ok {
		logging.WithCorrelation(logging.CategoryShell, req.CorrelationID).Warn(
			"syntax rejected: %s", firstLine(req.Command))
		res := &Result{
			CorrelationID: req.CorrelationID,
			ExitCode:      ExitSyntaxReject,
			Stderr:        message,
		}
		s.recordResult(req, res)
		return res, nil
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.registerCancel(req.CorrelationID, cancel)
	defer s.dropCancel(req.CorrelationID)

	p := &pending{req: req, ctx: reqCtx, done: make(chan struct{})}

	select {
	case s.queue <- p:
	case <-s.closeCh:
		return nil, ErrSessionClosed
	case <-reqCtx.Done():
		res := s.interruptedResult(req, 0)
		s.recordResult(req, res)
		return res, nil
	}

	select {
	case <-p.done:
	case <-s.workerDone:
		p.settle(nil, ErrSessionClosed)
	}
	<-p.done
	return p.res, p.err
}

// Cancel interrupts the identified request, queued or in flight. It reports
// whether the correlation id matched a live request.
func (s *Session) Cancel(correlationID string) bool {
	s.cancelMu.Lock()
	cancel, ok := s.cancels[correlationID]
	s.cancelMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Close tears the session down: pending requests fail, the shell dies with
// its process group, and the IPC directory is removed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	count := s.commandCount
	s.mu.Unlock()

	close(s.closeCh)
	<-s.workerDone

	// The worker is gone, so the process fields are stable now.
	s.procMu.Lock()
	cmd := s.cmd
	stdin := s.stdin
	monitorDone := s.monitorDone
	s.procMu.Unlock()

	s.intentionalKill.Store(true)
	if stdin != nil {
		stdin.Close()
	}
	if err := killProcessGroup(cmd); err != nil {
		logging.SessionWarn("session %s: kill on close: %v", s.ID, err)
	}
	if monitorDone != nil {
		<-monitorDone
	}

	s.watcher.Close()
	if err := os.RemoveAll(s.ipcDir); err != nil {
		logging.SessionWarn("session %s: failed to remove IPC dir: %v", s.ID, err)
	}

	logging.Session("session %s closed after %d commands", s.ID, count)
	logging.AuditWithSession(s.ID).SessionClose(s.ID, int(count))
	return nil
}

// Healthy reports whether the session can accept work.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy && !s.closed
}

// Workdir returns the session's current working directory.
func (s *Session) Workdir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workdir
}

// History returns a copy of the bounded result history, oldest first.
func (s *Session) History() []*Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Result, len(s.history))
	copy(out, s.history)
	return out
}

// CommandCount returns the number of commands this session has settled,
// including those evicted from history.
func (s *Session) CommandCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandCount
}

// QueueDepth returns the number of requests waiting behind the current one.
func (s *Session) QueueDepth() int {
	return len(s.queue)
}

func (s *Session) stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		ID:           s.ID,
		Workdir:      s.workdir,
		QueueDepth:   len(s.queue),
		CommandCount: s.commandCount,
		CreatedAt:    s.createdAt,
		LastUsed:     s.lastUsed,
		Healthy:      s.healthy && !s.closed,
	}
}

// =============================================================================
// WORKER - one goroutine drains the queue, strictly one command at a time
// =============================================================================

func (s *Session) worker() {
	defer close(s.workerDone)
	for {
		select {
		case <-s.closeCh:
			s.failQueued()
			return
		case p := <-s.queue:
			s.runPending(p)
		}
	}
}

// failQueued settles everything still queued when the session closes.
func (s *Session) failQueued() {
	for {
		select {
		case p := <-s.queue:
			p.settle(nil, ErrSessionClosed)
		default:
			return
		}
	}
}

func (s *Session) runPending(p *pending) {
	// Cancelled while queued: settle without touching the shell, so the
	// cancellation cannot bleed into a sibling's execution.
	if p.ctx.Err() != nil {
		res := s.interruptedResult(p.req, 0)
		s.recordResult(p.req, res)
		p.settle(res, nil)
		return
	}

	if !s.alive() {
		logging.AuditWithSession(s.ID).CommandDiscard(p.req.CorrelationID, p.req.Command)
		p.settle(nil, fault.QueueDiscarded(s.ID))
		return
	}

	res, err := s.runCommand(p)
	p.settle(res, err)
}

func (s *Session) runCommand(p *pending) (*Result, error) {
	req := p.req
	ch := newIPCChannel(s.ipcDir, req.CorrelationID)
	corrLog := logging.WithCorrelation(logging.CategoryShell, req.CorrelationID)
	corrLog.Debug("running: %s", firstLine(req.Command))

	timeout := s.effectiveTimeout(req.Timeout)

	s.procMu.Lock()
	stdin := s.stdin
	procDead := s.procDead
	s.procMu.Unlock()

	start := time.Now()
	if _, err := fmt.Fprintf(stdin, ". %s\n", shQuote(ch.scriptPath())); err != nil {
		s.markUnhealthy()
		return nil, fmt.Errorf("session %s: %w: %v", s.ID, ErrProcessDied, err)
	}

	verdict := s.watcher.await(p.ctx, ch.exitPath(), timeout, procDead, s.closeCh)
	duration := time.Since(start)

	switch verdict {
	case verdictCompleted:
		res, err := s.collectResult(ch, req, duration)
		if err != nil {
			return nil, err
		}
		s.applyEnv(req.Env)
		s.recordResult(req, res)
		corrLog.Info("completed: exit=%d duration=%s", res.ExitCode, duration.Round(time.Millisecond))
		return res, nil

	case verdictTimeout, verdictCancelled:
		reason := "timeout"
		if verdict == verdictCancelled {
			reason = "cancellation"
		}
		corrLog.Warn("interrupting after %s (%s)", duration.Round(time.Millisecond), reason)
		s.interruptProcess(reason)
		res := s.interruptedResult(req, duration)
		// Whatever partial output reached the capture files survived the kill.
		if out, _, err := readOutput(ch.stdoutPath(), s.cfg.Shell.MaxOutputBytes); err == nil {
			res.Stdout = out
		}
		if errOut, _, err := readOutput(ch.stderrPath(), s.cfg.Shell.MaxOutputBytes); err == nil {
			res.Stderr = errOut
		}
		s.applyEnv(req.Env)
		s.recordResult(req, res)
		s.respawn(reason)
		return res, nil

	case verdictProcessDied:
		s.markUnhealthy()
		return nil, fmt.Errorf("session %s: %w", s.ID, ErrProcessDied)

	case verdictClosed:
		return nil, ErrSessionClosed
	}
	return nil, fmt.Errorf("session %s: unhandled wait verdict %d", s.ID, verdict)
}

// collectResult assembles the Result for a normally completed command and
// folds the captured working directory back into the session.
func (s *Session) collectResult(ch *ipcChannel, req Request, duration time.Duration) (*Result, error) {
	exitCode, err := ch.readExitCode()
	if err != nil {
		return nil, err
	}

	limit := s.cfg.Shell.MaxOutputBytes
	stdout, droppedOut, err := readOutput(ch.stdoutPath(), limit)
	if err != nil {
		return nil, err
	}
	stderr, droppedErr, err := readOutput(ch.stderrPath(), limit)
	if err != nil {
		return nil, err
	}

	res := &Result{
		CorrelationID: req.CorrelationID,
		ExitCode:      exitCode,
		Stdout:        stdout,
		Stderr:        stderr,
		Duration:      duration,
	}
	if dropped := droppedOut + droppedErr; dropped > 0 {
		res.Truncated = true
		res.TruncatedBytes = dropped
	}

	if cwd := ch.readCwd(); cwd != "" {
		s.mu.Lock()
		s.workdir = cwd
		s.mu.Unlock()
	}
	return res, nil
}

func (s *Session) interruptedResult(req Request, duration time.Duration) *Result {
	return &Result{
		CorrelationID: req.CorrelationID,
		ExitCode:      ExitInterrupted,
		Duration:      duration,
		Interrupted:   true,
	}
}

// recordResult appends to the bounded history and writes the audit line.
func (s *Session) recordResult(req Request, res *Result) {
	s.mu.Lock()
	s.commandCount++
	s.lastUsed = time.Now()
	s.history = append(s.history, res)
	if over := len(s.history) - s.cfg.Sessions.HistoryLimit; over > 0 {
		s.history = s.history[over:]
	}
	s.mu.Unlock()

	logging.AuditWithSession(s.ID).CommandComplete(
		res.CorrelationID, req.Command, res.ExitCode, res.Duration.Milliseconds(), res.Interrupted)
}

// applyEnv folds a request's exports into the session environment so a
// respawned shell starts with the same variables the live one carried.
func (s *Session) applyEnv(env map[string]string) {
	if len(env) == 0 {
		return
	}
	s.mu.Lock()
	for k, v := range env {
		s.env[k] = v
	}
	s.mu.Unlock()
}

func (s *Session) effectiveTimeout(requested time.Duration) time.Duration {
	d := requested
	if d <= 0 {
		d = s.defaultTimeout
	}
	if ceiling := s.cfg.MaxShellTimeout(); d > ceiling {
		d = ceiling
	}
	return d
}

func (s *Session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy && !s.closed
}

func (s *Session) markUnhealthy() {
	s.mu.Lock()
	s.healthy = false
	s.mu.Unlock()
}

func (s *Session) registerCancel(corrID string, cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancels[corrID] = cancel
	s.cancelMu.Unlock()
}

func (s *Session) dropCancel(corrID string) {
	s.cancelMu.Lock()
	delete(s.cancels, corrID)
	s.cancelMu.Unlock()
}

// =============================================================================
// PROCESS LIFECYCLE - spawn, monitor, interrupt, respawn
// =============================================================================

// spawn starts a fresh shell for this session. Any previous process must
// already be dead and its monitor joined.
func (s *Session) spawn() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	workdir := s.workdir
	env := s.buildEnvLocked()
	s.mu.Unlock()

	cmd := exec.Command(s.cfg.Shell.Binary)
	cmd.Dir = workdir
	cmd.Env = env
	// Stdout/Stderr stay nil (attached to the null device): everything
	// observable travels through the per-command IPC files.
	setupProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open shell stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("failed to start shell %s: %w", s.cfg.Shell.Binary, err)
	}

	procDead := make(chan struct{})
	monitorDone := make(chan struct{})

	s.procMu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.procDead = procDead
	s.monitorDone = monitorDone
	s.intentionalKill.Store(false)
	s.procMu.Unlock()

	go s.monitor(cmd, procDead, monitorDone)
	return nil
}

// buildEnvLocked assembles the process environment: the allow-listed subset
// of the parent environment plus this session's accumulated exports.
func (s *Session) buildEnvLocked() []string {
	allowed := make(map[string]bool, len(s.cfg.Shell.AllowedEnvVars))
	for _, k := range s.cfg.Shell.AllowedEnvVars {
		allowed[k] = true
	}

	var env []string
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && allowed[name] {
			env = append(env, kv)
		}
	}
	for k, v := range s.env {
		env = append(env, k+"="+v)
	}
	return env
}

// monitor reaps the shell process and flags unexpected exits. procDead is
// closed on every exit; the intentional-kill flag decides whether the exit
// counts against the session's health.
func (s *Session) monitor(cmd *exec.Cmd, procDead, done chan struct{}) {
	defer close(done)
	err := cmd.Wait()
	close(procDead)
	if s.intentionalKill.Load() {
		return
	}
	s.markUnhealthy()
	logging.SessionWarn("session %s: shell exited unexpectedly: %v", s.ID, err)
}

// interruptProcess kills the current shell's process group and joins its
// monitor. The caller decides whether to respawn afterwards.
func (s *Session) interruptProcess(reason string) {
	s.procMu.Lock()
	cmd := s.cmd
	stdin := s.stdin
	monitorDone := s.monitorDone
	s.procMu.Unlock()

	s.intentionalKill.Store(true)
	if stdin != nil {
		stdin.Close()
	}
	if err := killProcessGroup(cmd); err != nil {
		logging.SessionWarn("session %s: kill on %s: %v", s.ID, reason, err)
	}
	<-monitorDone
}

// respawn replaces the shell in place after an interrupt so queued commands
// keep running with the session's directory and exports intact.
func (s *Session) respawn(reason string) {
	if err := s.spawn(); err != nil {
		if !errors.Is(err, ErrSessionClosed) {
			logging.SessionError("session %s: respawn after %s failed: %v", s.ID, reason, err)
			s.markUnhealthy()
		}
		return
	}
	logging.Session("session %s: shell respawned after %s", s.ID, reason)
	logging.AuditWithSession(s.ID).SessionReplace(s.ID, reason)
}

// probeProcess reports whether the backing shell still runs, marking the
// session unhealthy when it does not.
func (s *Session) probeProcess() bool {
	s.procMu.Lock()
	procDead := s.procDead
	s.procMu.Unlock()

	select {
	case <-procDead:
		s.markUnhealthy()
		return false
	default:
		return s.alive()
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// pathSafe reduces a session id to characters safe in a temp dir pattern.
func pathSafe(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}
