//go:build !windows

package session

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"grip/internal/fault"
)

func shellPID(t *testing.T, s *Session) int {
	t.Helper()
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		t.Fatal("session has no live shell process")
	}
	return s.cmd.Process.Pid
}

func killShell(t *testing.T, s *Session) {
	t.Helper()
	pid := shellPID(t, s)
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		t.Fatalf("kill %d failed: %v", pid, err)
	}
}

func waitUnhealthy(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !s.Healthy() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never noticed its shell died")
}

func TestQueueDiscardedOnProcessDeath(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	s := getSession(t, reg, "death")

	// Setup: one command in flight, one waiting behind it.
	head := submit(s, "sleep 3", "death-head")
	time.Sleep(150 * time.Millisecond)
	victim := submit(s, "echo queued", "death-victim")
	time.Sleep(50 * time.Millisecond)

	// Execute: kill the shell out from under both of them.
	killShell(t, s)

	// Verify: the in-flight command reports the death itself.
	headOut := waitOutcome(t, head, 3*time.Second)
	if headOut.err == nil {
		t.Fatal("Expected an error for the in-flight command")
	}
	if !errors.Is(headOut.err, ErrProcessDied) {
		t.Errorf("Expected ErrProcessDied, got %v", headOut.err)
	}

	// Verify: the queued command is discarded with its own error kind.
	victimOut := waitOutcome(t, victim, 3*time.Second)
	var agentErr *fault.AgentError
	if !errors.As(victimOut.err, &agentErr) {
		t.Fatalf("Expected an AgentError for the queued command, got %v", victimOut.err)
	}
	if agentErr.Kind != fault.KindQueueDiscarded {
		t.Errorf("Expected kind %q, got %q", fault.KindQueueDiscarded, agentErr.Kind)
	}

	if s.Healthy() {
		t.Error("Session should be unhealthy after its shell died")
	}
}

func TestGetReplacesDeadSession(t *testing.T) {
	reg := newTestRegistry(t, testConfig())
	s := getSession(t, reg, "replace")

	if _, err := s.Exec(context.Background(), Request{Command: "echo warm"}); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}

	killShell(t, s)
	waitUnhealthy(t, s)

	// Get must hand back a fresh healthy session under the same id.
	replacement := getSession(t, reg, "replace")
	if replacement == s {
		t.Fatal("Expected a replacement session, got the dead one")
	}
	if !replacement.Healthy() {
		t.Error("Replacement session should be healthy")
	}

	res, err := replacement.Exec(context.Background(), Request{Command: "echo again"})
	if err != nil {
		t.Fatalf("Exec on replacement failed: %v", err)
	}
	if res.Stdout != "again\n" {
		t.Errorf("Expected stdout %q, got %q", "again\n", res.Stdout)
	}
}

func TestHealthLoopLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Sessions.HealthInterval = "20ms"
	reg := newTestRegistry(t, cfg)
	s := getSession(t, reg, "healthloop")

	reg.StartHealthLoop()
	defer reg.StopHealthLoop()

	killShell(t, s)
	waitUnhealthy(t, s)

	// StopHealthLoop tolerates being called twice.
	reg.StopHealthLoop()
}
