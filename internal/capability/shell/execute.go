package shell

import (
	"context"
	"strings"
	"time"

	"grip/internal/capability"
	"grip/internal/fault"
	"grip/internal/permission"
	"grip/internal/session"
)

// DefaultSessionID is used when neither the input nor the invocation context
// names a session.
const DefaultSessionID = "default"

// RunCommandCapability returns the capability that runs literal command text
// inside a persistent session.
func RunCommandCapability(sessions *session.Registry) *capability.Descriptor {
	return &capability.Descriptor{
		Name:        "run_command",
		Description: "Run a shell command inside a persistent session",
		Category:    capability.CategoryShell,
		Schema: capability.Schema{
			Required: []string{"command"},
			Properties: map[string]capability.Property{
				"command": {
					Type:        "string",
					Description: "Command text to execute",
				},
				"session": {
					Type:        "string",
					Description: "Session id (default: the invocation's session)",
				},
				"working_dir": {
					Type:        "string",
					Description: "Working directory override; persists like a cd",
				},
				"timeout_seconds": {
					Type:        "integer",
					Description: "Budget before the command is interrupted",
				},
				"env": {
					Type:        "object",
					Description: "Environment variables exported before the command runs",
				},
			},
		},
		Output: &capability.Schema{
			Properties: map[string]capability.Property{
				"exit_code": {
					Type:        "integer",
					Description: "Command exit status; 124 when interrupted, 128 when rejected as malformed",
				},
				"stdout": {
					Type:        "string",
					Description: "Captured standard output, subject to the configured byte cap",
				},
				"stderr": {
					Type:        "string",
					Description: "Captured standard error, subject to the configured byte cap",
				},
				"interrupted": {
					Type:        "boolean",
					Description: "True when the command was stopped by timeout or cancellation",
				},
			},
		},
		Permission: func(input map[string]any, inv capability.Context) permission.Request {
			command, _ := input["command"].(string)
			return permission.Request{
				Type:        permission.TypeExecute,
				Scope:       permission.ScopeProject,
				Command:     command,
				Description: "run a shell command",
			}
		},
		Execute: func(ctx context.Context, input map[string]any, inv capability.Context) (any, error) {
			return executeRunCommand(ctx, sessions, input, inv)
		},
	}
}

func executeRunCommand(ctx context.Context, sessions *session.Registry, input map[string]any, inv capability.Context) (any, error) {
	command, _ := input["command"].(string)
	if strings.TrimSpace(command) == "" {
		return nil, fault.Validation(`field "command" cannot be blank`)
	}

	sessionID := inv.SessionID
	if sid, ok := input["session"].(string); ok && sid != "" {
		sessionID = sid
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	req := session.Request{
		Command:       command,
		CorrelationID: inv.CorrelationID,
	}
	if wd, ok := input["working_dir"].(string); ok {
		req.Workdir = wd
	}
	if secs, ok := capability.IntArg(input["timeout_seconds"]); ok && secs > 0 {
		req.Timeout = time.Duration(secs) * time.Second
	}
	if envMap, ok := input["env"].(map[string]any); ok {
		req.Env = make(map[string]string, len(envMap))
		for k, v := range envMap {
			if vs, ok := v.(string); ok {
				req.Env[k] = vs
			}
		}
	}

	s, err := sessions.Get(sessionID, session.Options{Workdir: inv.Workdir})
	if err != nil {
		return nil, fault.Systemf("session %s unavailable: %v", sessionID, err)
	}

	// Interrupted commands come back as results, not errors, so the caller
	// sees the exit code and partial output and decides about retrying.
	return s.Exec(ctx, req)
}

// SessionStatsCapability returns the read-only registry introspection
// capability. It takes no input and needs no permission.
func SessionStatsCapability(sessions *session.Registry) *capability.Descriptor {
	return &capability.Descriptor{
		Name:        "session_stats",
		Description: "Report active sessions and command totals",
		Category:    capability.CategoryShell,
		Schema:      capability.Schema{},
		Execute: func(ctx context.Context, input map[string]any, inv capability.Context) (any, error) {
			return sessions.Stats(), nil
		},
	}
}
