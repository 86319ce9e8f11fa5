// Package shell exposes persistent-session command execution as
// capabilities.
//
// Capabilities:
//   - run_command: run literal command text inside a persistent session
//   - session_stats: read-only session registry introspection
//
// run_command routes through the session registry, so working directory and
// exported environment persist between invocations that share a session id.
package shell
