// Audit logging: structured JSON-line events recording every consequential
// action the substrate takes (session lifecycle, command execution, permission
// decisions, capability outcomes). One event per line so the trail can be
// replayed or grepped by correlation id.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType names the kind of audit event.
type AuditEventType string

const (
	// Session lifecycle -> one backing process
	AuditSessionSpawn   AuditEventType = "session_spawn"
	AuditSessionReplace AuditEventType = "session_replace"
	AuditSessionClose   AuditEventType = "session_close"

	// Command execution within a session
	AuditCommandStart     AuditEventType = "command_start"
	AuditCommandComplete  AuditEventType = "command_complete"
	AuditCommandInterrupt AuditEventType = "command_interrupt"
	AuditCommandDiscard   AuditEventType = "command_discard"

	// Permission engine decisions
	AuditPermissionGrant AuditEventType = "permission_grant"
	AuditPermissionDeny  AuditEventType = "permission_deny"

	// Capability pipeline
	AuditCapabilityInvoke   AuditEventType = "capability_invoke"
	AuditCapabilityComplete AuditEventType = "capability_complete"
	AuditCapabilityError    AuditEventType = "capability_error"
)

// AuditEvent is one structured audit entry.
type AuditEvent struct {
	Timestamp   int64          `json:"ts"` // Unix milliseconds
	EventType   AuditEventType `json:"event"`
	SessionID   string         `json:"session,omitempty"`
	Correlation string         `json:"corr,omitempty"`
	Target      string         `json:"target,omitempty"` // command text, path, capability name
	Success     bool           `json:"success"`
	DurationMs  int64          `json:"dur_ms,omitempty"`
	Error       string         `json:"error,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit trail file. No-op when logging is disabled.
func InitAudit() error {
	stateMu.RLock()
	enabled := opts.Enabled && logsDir != ""
	dir := logsDir
	stateMu.RUnlock()
	if !enabled {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, fmt.Sprintf("%s_audit.log", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	fmt.Fprintf(auditFile, "# audit trail started %s\n", time.Now().Format(time.RFC3339))
	return nil
}

// CloseAudit closes the audit trail file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// AuditLogger emits audit events, optionally pre-scoped to a session or
// correlation id.
type AuditLogger struct {
	sessionID string
	corrID    string
}

// Audit returns an unscoped audit logger.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditWithSession returns an audit logger scoped to one session.
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// AuditWithCorrelation returns an audit logger scoped to one action.
func AuditWithCorrelation(sessionID, correlationID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID, corrID: correlationID}
}

// Log writes one event, filling scope defaults.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" {
		event.SessionID = a.sessionID
	}
	if event.Correlation == "" {
		event.Correlation = a.corrID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.WriteString(string(data) + "\n")
}

// SessionSpawn records a new backing process for a session.
func (a *AuditLogger) SessionSpawn(sessionID, workdir string) {
	a.Log(AuditEvent{
		EventType: AuditSessionSpawn,
		SessionID: sessionID,
		Target:    workdir,
		Success:   true,
	})
}

// SessionReplace records an unhealthy session being rebuilt.
func (a *AuditLogger) SessionReplace(sessionID, reason string) {
	a.Log(AuditEvent{
		EventType: AuditSessionReplace,
		SessionID: sessionID,
		Success:   true,
		Fields:    map[string]any{"reason": reason},
	})
}

// SessionClose records explicit session teardown.
func (a *AuditLogger) SessionClose(sessionID string, commandCount int) {
	a.Log(AuditEvent{
		EventType: AuditSessionClose,
		SessionID: sessionID,
		Success:   true,
		Fields:    map[string]any{"commands": commandCount},
	})
}

// CommandComplete records a settled command, interrupted or not.
func (a *AuditLogger) CommandComplete(correlationID, command string, exitCode int, durationMs int64, interrupted bool) {
	eventType := AuditCommandComplete
	if interrupted {
		eventType = AuditCommandInterrupt
	}
	a.Log(AuditEvent{
		EventType:   eventType,
		Correlation: correlationID,
		Target:      command,
		Success:     exitCode == 0 && !interrupted,
		DurationMs:  durationMs,
		Fields:      map[string]any{"exit_code": exitCode},
	})
}

// CommandDiscard records a queued command dropped by session replacement.
func (a *AuditLogger) CommandDiscard(correlationID, command string) {
	a.Log(AuditEvent{
		EventType:   AuditCommandDiscard,
		Correlation: correlationID,
		Target:      command,
		Success:     false,
	})
}

// PermissionDecision records a grant or denial.
func (a *AuditLogger) PermissionDecision(correlationID, permType, target string, granted, auto bool, rule string) {
	eventType := AuditPermissionGrant
	if !granted {
		eventType = AuditPermissionDeny
	}
	a.Log(AuditEvent{
		EventType:   eventType,
		Correlation: correlationID,
		Target:      target,
		Success:     granted,
		Fields:      map[string]any{"type": permType, "auto": auto, "rule": rule},
	})
}

// CapabilityOutcome records one trip through the execution pipeline.
func (a *AuditLogger) CapabilityOutcome(correlationID, name string, durationMs int64, success bool, errMsg string) {
	eventType := AuditCapabilityComplete
	if !success {
		eventType = AuditCapabilityError
	}
	a.Log(AuditEvent{
		EventType:   eventType,
		Correlation: correlationID,
		Target:      name,
		Success:     success,
		DurationMs:  durationMs,
		Error:       errMsg,
	})
}
