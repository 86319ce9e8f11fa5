package session

import "time"

// Sentinel exit codes used in synthesized results. They occupy the range
// conventionally reserved for abnormal termination so callers can tell them
// apart from anything a well-behaved command returns.
const (
	// ExitInterrupted is reported when a command was cut short by a timeout
	// or an explicit cancellation.
	ExitInterrupted = 124

	// ExitSyntaxReject is reported when the syntax dry-run refused the
	// command before it ever reached the live shell.
	ExitSyntaxReject = 128
)

// Request describes one command submitted to a session.
type Request struct {
	// Command is the literal shell text to execute.
	Command string

	// CorrelationID ties the result back to the caller's action. A fresh id
	// is generated when empty.
	CorrelationID string

	// Timeout bounds this command alone. Zero means the session default;
	// values above the configured ceiling are clamped down to it.
	Timeout time.Duration

	// Workdir changes into the directory before the command runs. Like any
	// cd, the change persists for subsequent commands on the session.
	Workdir string

	// Env is exported into the shell before the command runs and stays
	// exported for the rest of the session's life, respawns included.
	Env map[string]string
}

// Result is the settled outcome of one command. Exactly one Result is
// produced per accepted Request, whether the command completed, was
// interrupted, or was refused by the syntax gate.
type Result struct {
	CorrelationID string        `json:"correlation_id"`
	ExitCode      int           `json:"exit_code"`
	Stdout        string        `json:"stdout"`
	Stderr        string        `json:"stderr"`
	Duration      time.Duration `json:"duration"`
	Interrupted   bool          `json:"interrupted"`

	// Truncated is set when either output stream hit the configured byte
	// cap; TruncatedBytes counts what was dropped across both streams.
	Truncated      bool  `json:"truncated,omitempty"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`
}

// Success reports whether the command completed normally with exit 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && !r.Interrupted
}
