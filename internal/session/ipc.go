package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// The live shell has no request/response framing, so nothing is ever parsed
// off its stdout. Instead every command is wrapped in a generated script that
// captures the four things a result needs into private files named by
// correlation id: stdout, stderr, the exit code, and the shell's working
// directory afterwards. Completion is signalled by the exit-code file, which
// is written to a scratch name and renamed into place so a non-empty read is
// never a partial write.

// ipcChannel names the capture files for one command inside a session's
// private IPC directory.
type ipcChannel struct {
	dir    string
	corrID string
}

func newIPCChannel(dir, corrID string) *ipcChannel {
	return &ipcChannel{dir: dir, corrID: corrID}
}

func (c *ipcChannel) scriptPath() string { return filepath.Join(c.dir, c.corrID+".sh") }
func (c *ipcChannel) stdoutPath() string { return filepath.Join(c.dir, c.corrID+".out") }
func (c *ipcChannel) stderrPath() string { return filepath.Join(c.dir, c.corrID+".err") }
func (c *ipcChannel) exitPath() string   { return filepath.Join(c.dir, c.corrID+".exit") }
func (c *ipcChannel) cwdPath() string    { return filepath.Join(c.dir, c.corrID+".cwd") }

func (c *ipcChannel) exitScratchPath() string {
	return filepath.Join(c.dir, c.corrID+".exit.tmp")
}

// envKeyPattern accepts POSIX-safe variable names. Anything else would make
// the generated export line misbehave at runtime, past the syntax gate.
var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// shQuote single-quotes s for safe interpolation into shell text.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// writeScript renders the wrapper for req and writes it to the script file.
// The shell later sources the file, so exports and directory changes land in
// the session process itself.
func (c *ipcChannel) writeScript(req Request) error {
	return os.WriteFile(c.scriptPath(), []byte(c.script(req)), 0644)
}

// script builds the wrapper. The command body runs in a subshell so a
// literal `exit N` terminates the command, not the session; the subshell
// records its final directory before exiting and the parent chases it, which
// is what makes cd persist. The working-directory file is written before the
// exit-code file so it is always readable once completion is observed.
func (c *ipcChannel) script(req Request) string {
	var b strings.Builder

	if len(req.Env) > 0 {
		keys := make([]string, 0, len(req.Env))
		for k := range req.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "export %s=%s\n", k, shQuote(req.Env[k]))
		}
	}

	b.WriteString("( {\n")
	if req.Workdir != "" {
		fmt.Fprintf(&b, "cd -- %s && {\n%s\n}\n", shQuote(req.Workdir), req.Command)
	} else {
		b.WriteString(req.Command)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "} > %s 2> %s\n", shQuote(c.stdoutPath()), shQuote(c.stderrPath()))
	b.WriteString("__grip_status=$?\n")
	fmt.Fprintf(&b, "pwd > %s\n", shQuote(c.cwdPath()))
	b.WriteString("exit \"$__grip_status\"\n")
	b.WriteString(")\n")
	b.WriteString("__grip_status=$?\n")
	fmt.Fprintf(&b, "[ -s %s ] && cd -- \"$(cat %s)\" 2>/dev/null\n", shQuote(c.cwdPath()), shQuote(c.cwdPath()))
	fmt.Fprintf(&b, "printf '%%s\\n' \"$__grip_status\" > %s\n", shQuote(c.exitScratchPath()))
	fmt.Fprintf(&b, "mv -f %s %s\n", shQuote(c.exitScratchPath()), shQuote(c.exitPath()))

	return b.String()
}

// readExitCode parses the exit-code file. Callers only invoke this after the
// file has been observed non-empty.
func (c *ipcChannel) readExitCode() (int, error) {
	data, err := os.ReadFile(c.exitPath())
	if err != nil {
		return 0, fmt.Errorf("failed to read exit file: %w", err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("exit file holds %q, not an exit code", strings.TrimSpace(string(data)))
	}
	return code, nil
}

// readCwd returns the captured post-command working directory, or "" when
// the command never reached the capture step (a literal exit, a kill).
func (c *ipcChannel) readCwd() string {
	data, err := os.ReadFile(c.cwdPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readOutput reads one capture file subject to the per-stream byte cap.
// Over-cap content is cut at the cap with a trailing marker; the returned
// count is how many bytes were dropped. A missing file reads as empty.
func readOutput(path string, limit int64) (string, int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat output capture: %w", err)
	}

	if info.Size() <= limit {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", 0, fmt.Errorf("failed to read output capture: %w", err)
		}
		return string(data), 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open output capture: %w", err)
	}
	defer f.Close()

	buf := make([]byte, limit)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", 0, fmt.Errorf("failed to read output capture: %w", err)
	}
	dropped := info.Size() - int64(n)
	text := string(buf[:n]) + fmt.Sprintf("\n[output truncated: %d bytes dropped]", dropped)
	return text, dropped, nil
}

// checkSyntax runs a short-lived `sh -n` over the generated script. A parse
// failure comes back as ok=false with the shell's message; err is reserved
// for the checker itself failing to run.
func checkSyntax(ctx context.Context, shell, scriptPath string) (ok bool, message string, err error) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, shell, "-n", scriptPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr == nil {
		return true, "", nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return false, stderr.String(), nil
	}
	return false, "", fmt.Errorf("failed to run syntax check: %w", runErr)
}
