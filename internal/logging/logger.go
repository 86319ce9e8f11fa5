// Package logging provides categorized file-based logging for grip.
// Logs are written to .grip/logs/ with one file per category per day.
// Nothing is written until Initialize is called; before that (and whenever a
// category is disabled) every logger is a silent no-op, which keeps library
// code free to log unconditionally and keeps tests quiet.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category routes a log line to its own file.
type Category string

const (
	CategoryBoot       Category = "boot"       // startup, composition root
	CategoryConfig     Category = "config"     // configuration loading
	CategorySession    Category = "session"    // session lifecycle, registry
	CategoryShell      Category = "shell"      // command execution, IPC
	CategoryPermission Category = "permission" // grants, denials, rule matches
	CategoryCapability Category = "capability" // registry, pipeline outcomes
)

// Options selects what gets logged and how. Populated by the config package;
// the zero value disables all output.
type Options struct {
	Enabled    bool
	Level      string          // debug, info, warn, error
	JSONFormat bool            // one JSON object per line instead of text
	Categories map[string]bool // nil enables every category
}

// Entry is the structured form of one log line when JSON format is enabled.
type Entry struct {
	Timestamp   int64          `json:"ts"` // Unix milliseconds
	Category    string         `json:"cat"`
	Level       string         `json:"lvl"`
	Message     string         `json:"msg"`
	Correlation string         `json:"corr,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Logger writes to one category's file. A Logger with a nil backing logger is
// a no-op.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

const (
	levelDebug = 0
	levelInfo  = 1
	levelWarn  = 2
	levelError = 3
)

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	stateMu  sync.RWMutex
	opts     Options
	logsDir  string
	logLevel = levelInfo
)

// Initialize points the logging system at workspace/.grip/logs and applies
// opts. Safe to call more than once; later calls reconfigure. When opts
// disables logging this is a silent no-op and no directory is created.
func Initialize(workspace string, o Options) error {
	stateMu.Lock()
	opts = o
	logLevel = parseLevel(o.Level)
	if !o.Enabled {
		logsDir = ""
		stateMu.Unlock()
		return nil
	}
	logsDir = filepath.Join(workspace, ".grip", "logs")
	dir := logsDir
	stateMu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== grip logging initialized ===")
	boot.Info("logs directory: %s", dir)
	boot.Info("level: %s json: %v", o.Level, o.JSONFormat)
	return nil
}

func parseLevel(level string) int {
	switch level {
	case "debug":
		return levelDebug
	case "info", "":
		return levelInfo
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// IsCategoryEnabled reports whether lines for category would be written.
func IsCategoryEnabled(category Category) bool {
	stateMu.RLock()
	defer stateMu.RUnlock()

	if !opts.Enabled || logsDir == "" {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, ok := opts.Categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for a category. Disabled categories get
// a no-op logger, so call sites never need to guard.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	stateMu.RLock()
	dir := logsDir
	stateMu.RUnlock()

	// Date prefix keeps rotation a matter of deleting old files.
	filename := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category)
	path := filepath.Join(dir, filename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// CloseAll closes every open log file. Call at shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

func (l *Logger) write(name, msg string) {
	if l.logger == nil {
		return
	}
	stateMu.RLock()
	jsonFormat := opts.JSONFormat
	stateMu.RUnlock()
	if jsonFormat {
		l.writeJSON(name, msg, "", nil)
		return
	}
	l.logger.Printf("[%s] %s", name, msg)
}

func (l *Logger) writeJSON(level, msg, corr string, fields map[string]any) {
	entry := Entry{
		Timestamp:   time.Now().UnixMilli(),
		Category:    string(l.category),
		Level:       level,
		Message:     msg,
		Correlation: corr,
		Fields:      fields,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...any) {
	if l.logger == nil || logLevel > levelDebug {
		return
	}
	l.write("DEBUG", fmt.Sprintf(format, args...))
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...any) {
	if l.logger == nil || logLevel > levelInfo {
		return
	}
	l.write("INFO", fmt.Sprintf(format, args...))
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...any) {
	if l.logger == nil || logLevel > levelWarn {
		return
	}
	l.write("WARN", fmt.Sprintf(format, args...))
}

// Error logs at error level. Always written when the category is enabled.
func (l *Logger) Error(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.write("ERROR", fmt.Sprintf(format, args...))
}

// =============================================================================
// CORRELATION-SCOPED LOGGING
// =============================================================================

// CorrelationLogger prefixes every line with [corr:id] so one action can be
// traced across session, permission, and capability logs.
type CorrelationLogger struct {
	logger *Logger
	corrID string
	fields map[string]any
}

// WithCorrelation returns a correlation-scoped logger for a category.
func WithCorrelation(category Category, correlationID string) *CorrelationLogger {
	return &CorrelationLogger{
		logger: Get(category),
		corrID: correlationID,
		fields: make(map[string]any),
	}
}

// WithField attaches a key/value pair to every subsequent line.
func (c *CorrelationLogger) WithField(key string, value any) *CorrelationLogger {
	c.fields[key] = value
	return c
}

func (c *CorrelationLogger) formatMsg(format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	if len(c.fields) > 0 {
		return fmt.Sprintf("[corr:%s] %s | %v", c.corrID, msg, c.fields)
	}
	return fmt.Sprintf("[corr:%s] %s", c.corrID, msg)
}

func (c *CorrelationLogger) Debug(format string, args ...any) {
	if c.logger.logger == nil || logLevel > levelDebug {
		return
	}
	c.logger.write("DEBUG", c.formatMsg(format, args...))
}

func (c *CorrelationLogger) Info(format string, args ...any) {
	if c.logger.logger == nil || logLevel > levelInfo {
		return
	}
	c.logger.write("INFO", c.formatMsg(format, args...))
}

func (c *CorrelationLogger) Warn(format string, args ...any) {
	if c.logger.logger == nil || logLevel > levelWarn {
		return
	}
	c.logger.write("WARN", c.formatMsg(format, args...))
}

func (c *CorrelationLogger) Error(format string, args ...any) {
	if c.logger.logger == nil {
		return
	}
	c.logger.write("ERROR", c.formatMsg(format, args...))
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without fetching a logger first
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...any) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category.
func BootDebug(format string, args ...any) {
	Get(CategoryBoot).Debug(format, args...)
}

// Config logs to the config category.
func Config(format string, args ...any) {
	Get(CategoryConfig).Info(format, args...)
}

// ConfigDebug logs debug to the config category.
func ConfigDebug(format string, args ...any) {
	Get(CategoryConfig).Debug(format, args...)
}

// Session logs to the session category.
func Session(format string, args ...any) {
	Get(CategorySession).Info(format, args...)
}

// SessionDebug logs debug to the session category.
func SessionDebug(format string, args ...any) {
	Get(CategorySession).Debug(format, args...)
}

// SessionWarn logs a warning to the session category.
func SessionWarn(format string, args ...any) {
	Get(CategorySession).Warn(format, args...)
}

// SessionError logs an error to the session category.
func SessionError(format string, args ...any) {
	Get(CategorySession).Error(format, args...)
}

// Shell logs to the shell category.
func Shell(format string, args ...any) {
	Get(CategoryShell).Info(format, args...)
}

// ShellDebug logs debug to the shell category.
func ShellDebug(format string, args ...any) {
	Get(CategoryShell).Debug(format, args...)
}

// ShellWarn logs a warning to the shell category.
func ShellWarn(format string, args ...any) {
	Get(CategoryShell).Warn(format, args...)
}

// ShellError logs an error to the shell category.
func ShellError(format string, args ...any) {
	Get(CategoryShell).Error(format, args...)
}

// Permission logs to the permission category.
func Permission(format string, args ...any) {
	Get(CategoryPermission).Info(format, args...)
}

// PermissionDebug logs debug to the permission category.
func PermissionDebug(format string, args ...any) {
	Get(CategoryPermission).Debug(format, args...)
}

// PermissionWarn logs a warning to the permission category.
func PermissionWarn(format string, args ...any) {
	Get(CategoryPermission).Warn(format, args...)
}

// Capability logs to the capability category.
func Capability(format string, args ...any) {
	Get(CategoryCapability).Info(format, args...)
}

// CapabilityDebug logs debug to the capability category.
func CapabilityDebug(format string, args ...any) {
	Get(CategoryCapability).Debug(format, args...)
}

// CapabilityWarn logs a warning to the capability category.
func CapabilityWarn(format string, args ...any) {
	Get(CategoryCapability).Warn(format, args...)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures one operation's duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level.
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold warns when the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
