//go:build windows

package session

import (
	"fmt"
	"os/exec"
	"strconv"
)

// setupProcessGroup is a no-op on Windows; taskkill walks the tree instead.
func setupProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup terminates the shell and its child tree.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		if killErr := cmd.Process.Kill(); killErr != nil {
			return fmt.Errorf("failed to kill process: %w", killErr)
		}
	}
	return nil
}
