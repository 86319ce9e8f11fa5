package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resetState clears package-level logging state between tests.
func resetState() {
	CloseAll()
	CloseAudit()
	stateMu.Lock()
	opts = Options{}
	logsDir = ""
	logLevel = levelInfo
	stateMu.Unlock()
}

func initForTest(t *testing.T, o Options) string {
	t.Helper()
	resetState()
	tempDir, err := os.MkdirTemp("", "grip_logging_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		resetState()
		os.RemoveAll(tempDir)
	})
	if err := Initialize(tempDir, o); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return tempDir
}

func readCategoryLog(t *testing.T, dir string, cat Category) string {
	t.Helper()
	CloseAll() // flush file handles before reading
	logsPath := filepath.Join(dir, ".grip", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("failed to read logs dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_"+string(cat)+".log") {
			data, err := os.ReadFile(filepath.Join(logsPath, e.Name()))
			if err != nil {
				t.Fatalf("failed to read log file: %v", err)
			}
			return string(data)
		}
	}
	return ""
}

func TestAllCategoriesCreateFiles(t *testing.T) {
	dir := initForTest(t, Options{Enabled: true, Level: "debug"})

	categories := []Category{
		CategoryBoot,
		CategoryConfig,
		CategorySession,
		CategoryShell,
		CategoryPermission,
		CategoryCapability,
	}
	for _, cat := range categories {
		Get(cat).Info("hello from %s", cat)
	}

	for _, cat := range categories {
		content := readCategoryLog(t, dir, cat)
		if !strings.Contains(content, "hello from "+string(cat)) {
			t.Errorf("category %s: log file missing expected line", cat)
		}
	}
}

func TestDisabledLoggingWritesNothing(t *testing.T) {
	resetState()
	tempDir, err := os.MkdirTemp("", "grip_logging_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)
	defer resetState()

	if err := Initialize(tempDir, Options{Enabled: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	Session("this should vanish")
	ShellError("so should this")

	if _, err := os.Stat(filepath.Join(tempDir, ".grip", "logs")); !os.IsNotExist(err) {
		t.Error("disabled logging should not create the logs directory")
	}
}

func TestCategoryFilter(t *testing.T) {
	dir := initForTest(t, Options{
		Enabled: true,
		Level:   "debug",
		Categories: map[string]bool{
			"session": true,
			"shell":   false,
		},
	})

	Session("session line")
	Shell("shell line")

	if got := readCategoryLog(t, dir, CategorySession); !strings.Contains(got, "session line") {
		t.Error("enabled category should log")
	}
	if got := readCategoryLog(t, dir, CategoryShell); got != "" {
		t.Errorf("disabled category should not log, got %q", got)
	}
}

func TestLevelGate(t *testing.T) {
	dir := initForTest(t, Options{Enabled: true, Level: "warn"})

	l := Get(CategoryShell)
	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line")
	l.Error("error line")

	content := readCategoryLog(t, dir, CategoryShell)
	if strings.Contains(content, "debug line") || strings.Contains(content, "info line") {
		t.Error("lines below warn level should be suppressed")
	}
	if !strings.Contains(content, "warn line") || !strings.Contains(content, "error line") {
		t.Error("warn and error lines should be written")
	}
}

func TestCorrelationPrefix(t *testing.T) {
	dir := initForTest(t, Options{Enabled: true, Level: "debug"})

	log := WithCorrelation(CategoryPermission, "abc-123").WithField("type", "execute")
	log.Info("decision made")

	content := readCategoryLog(t, dir, CategoryPermission)
	if !strings.Contains(content, "[corr:abc-123]") {
		t.Errorf("correlation prefix missing: %q", content)
	}
	if !strings.Contains(content, "decision made") {
		t.Errorf("message missing: %q", content)
	}
}

func TestJSONFormat(t *testing.T) {
	dir := initForTest(t, Options{Enabled: true, Level: "debug", JSONFormat: true})

	Capability("pipeline done")

	content := readCategoryLog(t, dir, CategoryCapability)
	idx := strings.Index(content, "{")
	if idx < 0 {
		t.Fatalf("no JSON object in log output: %q", content)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(strings.TrimSpace(content[idx:])), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v (%q)", err, content)
	}
	if entry.Category != "capability" || entry.Message != "pipeline done" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestNoopBeforeInitialize(t *testing.T) {
	resetState()
	// Must not panic or create files.
	Session("early line")
	StartTimer(CategoryShell, "op").Stop()
	WithCorrelation(CategoryShell, "x").Error("still quiet")
}

func TestAuditTrail(t *testing.T) {
	dir := initForTest(t, Options{Enabled: true, Level: "debug"})
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit failed: %v", err)
	}

	audit := AuditWithSession("default")
	audit.SessionSpawn("default", "/tmp/work")
	audit.CommandComplete("corr-1", "echo hi", 0, 12, false)
	audit.PermissionDecision("corr-1", "execute", "echo hi", true, true, "auto:safe-echo")
	audit.CapabilityOutcome("corr-1", "run_command", 15, true, "")
	CloseAudit()

	logsPath := filepath.Join(dir, ".grip", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("failed to read logs dir: %v", err)
	}
	var content string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_audit.log") {
			data, _ := os.ReadFile(filepath.Join(logsPath, e.Name()))
			content = string(data)
		}
	}
	if content == "" {
		t.Fatal("audit log file missing")
	}

	for _, want := range []string{
		string(AuditSessionSpawn),
		string(AuditCommandComplete),
		string(AuditPermissionGrant),
		string(AuditCapabilityComplete),
		"corr-1",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("audit trail missing %q", want)
		}
	}

	// Every non-comment line must be valid JSON.
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var event AuditEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Errorf("audit line is not JSON: %q", line)
		}
	}
}
