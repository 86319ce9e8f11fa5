package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grip/internal/capability"
	"grip/internal/config"
	"grip/internal/fault"
	"grip/internal/permission"
	"grip/internal/session"
)

func testHarness(t *testing.T) (*capability.Registry, *session.Registry) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Sessions.PollInterval = "5ms"

	engine, err := permission.NewEngine(cfg.Permissions)
	require.NoError(t, err)

	sessions := session.NewRegistry(cfg)
	t.Cleanup(func() { require.NoError(t, sessions.CloseAll()) })

	registry := capability.NewRegistry(engine, cfg.Capabilities.HistoryLimit)
	require.NoError(t, RegisterAll(registry, sessions))
	return registry, sessions
}

func TestRunCommandThroughSession(t *testing.T) {
	registry, _ := testHarness(t)

	out := registry.Execute(context.Background(), "run_command",
		map[string]any{"command": "echo hi"},
		capability.Context{SessionID: "cap-test", Workdir: t.TempDir()})

	require.True(t, out.Success, "outcome error: %v", out.Error)
	res, ok := out.Data.(*session.Result)
	require.True(t, ok, "data should be the command result, got %T", out.Data)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Zero(t, res.ExitCode)
	assert.Equal(t, out.Metadata.CorrelationID, res.CorrelationID,
		"the correlation id must thread from the pipeline into the command result")
}

func TestRunCommandStatePersistsAcrossInvocations(t *testing.T) {
	registry, _ := testHarness(t)
	inv := capability.Context{SessionID: "cap-state", Workdir: t.TempDir()}

	out := registry.Execute(context.Background(), "run_command",
		map[string]any{"command": "echo $CAP_PROBE", "env": map[string]any{"CAP_PROBE": "kept"}}, inv)
	require.True(t, out.Success, "outcome error: %v", out.Error)

	out = registry.Execute(context.Background(), "run_command",
		map[string]any{"command": "echo $CAP_PROBE"}, inv)
	require.True(t, out.Success, "outcome error: %v", out.Error)
	res := out.Data.(*session.Result)
	assert.Equal(t, "kept\n", res.Stdout, "exports must persist within the session")
}

func TestRunCommandDeniedByPolicy(t *testing.T) {
	registry, sessions := testHarness(t)

	out := registry.Execute(context.Background(), "run_command",
		map[string]any{"command": "sudo rm -rf /var"},
		capability.Context{SessionID: "cap-denied", Workdir: t.TempDir()})

	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, fault.KindPermission, out.Error.Kind)
	assert.Empty(t, sessions.IDs(), "a denied command must never reach a session")
}

func TestRunCommandBlankCommand(t *testing.T) {
	registry, _ := testHarness(t)

	out := registry.Execute(context.Background(), "run_command",
		map[string]any{"command": "   "},
		capability.Context{SessionID: "cap-blank", Workdir: t.TempDir()})

	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, fault.KindValidation, out.Error.Kind)
}

func TestRunCommandTimeoutComesBackAsResult(t *testing.T) {
	registry, _ := testHarness(t)

	out := registry.Execute(context.Background(), "run_command",
		map[string]any{"command": "sleep 5", "timeout_seconds": 1},
		capability.Context{SessionID: "cap-timeout", Workdir: t.TempDir()})

	require.True(t, out.Success, "an interrupt is a result, not a pipeline failure: %v", out.Error)
	res := out.Data.(*session.Result)
	assert.True(t, res.Interrupted)
	assert.Equal(t, session.ExitInterrupted, res.ExitCode)
}

func TestSessionStats(t *testing.T) {
	registry, _ := testHarness(t)
	inv := capability.Context{SessionID: "cap-stats", Workdir: t.TempDir()}

	out := registry.Execute(context.Background(), "run_command", map[string]any{"command": "echo one"}, inv)
	require.True(t, out.Success, "outcome error: %v", out.Error)

	out = registry.Execute(context.Background(), "session_stats", nil, inv)
	require.True(t, out.Success, "outcome error: %v", out.Error)

	stats, ok := out.Data.(session.RegistryStats)
	require.True(t, ok, "data should be registry stats, got %T", out.Data)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.EqualValues(t, 1, stats.TotalCommands)
}
