package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"grip/internal/capability"
	"grip/internal/capability/fileops"
	"grip/internal/capability/search"
	"grip/internal/capability/shell"
	"grip/internal/config"
	"grip/internal/logging"
	"grip/internal/permission"
	"grip/internal/session"
)

const version = "0.3.0"

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	timeout    time.Duration

	// Subcommand flags
	sessionID     string
	execEnv       []string
	callJSON      string
	askPermission bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "grip",
	Short: "grip - persistent shell sessions with guarded capabilities",
	Long: `grip is a tool-execution substrate for autonomous coding agents.

It keeps long-lived shell sessions alive between commands, so working
directory and exported environment persist. Shell, file, and search
operations are exposed as typed capabilities with structured results, and
every invocation is authorized by a rule-based permission engine first.

Run 'grip caps' to see what is registered.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// execCmd runs one shell command through a persistent session
var execCmd = &cobra.Command{
	Use:   "exec [command]",
	Short: "Execute a shell command in a persistent session",
	Long: `Runs a command through the named session and prints its output.

The session keeps its working directory and exported environment between
invocations of the same process, so 'cd' and 'export' in one capability call
affect the next. The command is checked against the permission rules before
anything reaches the shell.

Examples:
  grip exec 'ls -la'
  grip exec --session build 'make test'
  grip exec --env CI=1 './scripts/check.sh'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

// callCmd invokes a registered capability by name
var callCmd = &cobra.Command{
	Use:   "call [capability] [key=value ...]",
	Short: "Invoke a capability and print the structured outcome",
	Long: `Invokes a registered capability with key=value inputs and prints the
full outcome as JSON, including error kind and suggestions on failure.

Values parse as integers, floats, or booleans when they look like one, and
stay strings otherwise. Use --json for nested inputs.

Examples:
  grip call read_file path=go.mod
  grip call grep_search pattern='func main' file_pattern='*.go'
  grip call run_command --json '{"command": "git status"}'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

// capsCmd lists the registered capabilities
var capsCmd = &cobra.Command{
	Use:   "caps",
	Short: "List registered capabilities by category",
	RunE:  listCapabilities,
}

// statsCmd shows substrate status and aggregates
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show session and capability aggregates",
	RunE:  showStats,
}

// versionCmd prints the version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the grip version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("grip %s\n", version)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/.grip/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	// Exec flags
	execCmd.Flags().StringVarP(&sessionID, "session", "s", shell.DefaultSessionID, "Session id to execute in")
	execCmd.Flags().StringSliceVar(&execEnv, "env", nil, "KEY=VALUE exported before the command runs")
	execCmd.Flags().BoolVar(&askPermission, "ask", false, "Prompt before operations no rule decides")

	// Call flags
	callCmd.Flags().StringVarP(&sessionID, "session", "s", shell.DefaultSessionID, "Session id for shell capabilities")
	callCmd.Flags().StringVar(&callJSON, "json", "", "Capability input as a JSON object")
	callCmd.Flags().BoolVar(&askPermission, "ask", false, "Prompt before operations no rule decides")

	// Add commands to root
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(capsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// harness bundles the wired substrate for one CLI invocation.
type harness struct {
	cfg      *config.Config
	workdir  string
	engine   *permission.Engine
	sessions *session.Registry
	caps     *capability.Registry
}

// buildHarness wires the composition root: config, logging, permission
// engine, session registry, capability registry, plugins.
func buildHarness() (*harness, error) {
	workdir := workspace
	if workdir == "" {
		workdir, _ = os.Getwd()
	}

	path := configPath
	if path == "" {
		path = filepath.Join(workdir, ".grip", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := logging.Initialize(workdir, logging.Options{
		Enabled:    cfg.Logging.DebugMode || verbose,
		Level:      level,
		JSONFormat: cfg.Logging.Format == "json",
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, err
	}
	if err := logging.InitAudit(); err != nil {
		return nil, err
	}

	engine, err := permission.NewEngine(cfg.Permissions)
	if err != nil {
		return nil, fmt.Errorf("failed to build permission engine: %w", err)
	}

	sessions := session.NewRegistry(cfg)
	sessions.StartHealthLoop()

	caps := capability.NewRegistry(engine, cfg.Capabilities.HistoryLimit)
	if err := shell.RegisterAll(caps, sessions); err != nil {
		return nil, err
	}
	if err := fileops.RegisterAll(caps); err != nil {
		return nil, err
	}
	if err := search.RegisterAll(caps); err != nil {
		return nil, err
	}

	return &harness{
		cfg:      cfg,
		workdir:  workdir,
		engine:   engine,
		sessions: sessions,
		caps:     caps,
	}, nil
}

func (h *harness) shutdown() {
	h.sessions.StopHealthLoop()
	if err := h.sessions.CloseAll(); err != nil {
		logger.Warn("Session shutdown", zap.Error(err))
	}
	logging.CloseAudit()
	logging.CloseAll()
}

// runExec executes one command through the capability pipeline
func runExec(cmd *cobra.Command, args []string) error {
	// The session interrupts the command at --timeout; the context gets a
	// little slack so the clean interrupted result wins over cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), timeout+10*time.Second)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	rt, err := buildHarness()
	if err != nil {
		return err
	}
	defer rt.shutdown()
	if askPermission {
		rt.engine.SetDecider(permission.DeciderFunc(promptDecision))
	}

	command := strings.Join(args, " ")
	logger.Info("Executing command",
		zap.String("session", sessionID),
		zap.String("command", command))

	input := map[string]any{
		"command":         command,
		"timeout_seconds": int(timeout / time.Second),
	}
	if env, err := parseEnvPairs(execEnv); err != nil {
		return err
	} else if len(env) > 0 {
		input["env"] = env
	}

	out := rt.caps.Execute(ctx, "run_command", input,
		capability.Context{SessionID: sessionID, Workdir: rt.workdir})
	if err := outcomeErr(out); err != nil {
		return err
	}

	res, ok := out.Data.(*session.Result)
	if !ok {
		return fmt.Errorf("unexpected result type %T", out.Data)
	}
	printResult(res)

	if res.Interrupted {
		return fmt.Errorf("command interrupted after %s", res.Duration.Round(time.Millisecond))
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exit status %d", res.ExitCode)
	}
	return nil
}

// runCall invokes a capability by name with key=value inputs
func runCall(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	rt, err := buildHarness()
	if err != nil {
		return err
	}
	defer rt.shutdown()
	if askPermission {
		rt.engine.SetDecider(permission.DeciderFunc(promptDecision))
	}

	name := args[0]
	input := make(map[string]any)
	if callJSON != "" {
		if err := json.Unmarshal([]byte(callJSON), &input); err != nil {
			return fmt.Errorf("invalid --json input: %w", err)
		}
	}
	for _, pair := range args[1:] {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid input %q, want key=value", pair)
		}
		input[key] = parseScalar(raw)
	}

	logger.Info("Invoking capability",
		zap.String("name", name),
		zap.Int("inputs", len(input)))

	out := rt.caps.Execute(ctx, name, input,
		capability.Context{SessionID: sessionID, Workdir: rt.workdir})

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	fmt.Println(string(encoded))

	if !out.Success {
		return fmt.Errorf("%s failed", name)
	}
	return nil
}

// listCapabilities prints the catalog grouped by category
func listCapabilities(cmd *cobra.Command, args []string) error {
	rt, err := buildHarness()
	if err != nil {
		return err
	}
	defer rt.shutdown()

	if rt.caps.Count() == 0 {
		fmt.Println("No capabilities registered")
		return nil
	}

	for _, cat := range rt.caps.Categories() {
		fmt.Printf("%s:\n", cat)
		for _, d := range rt.caps.ByCategory(cat) {
			line := fmt.Sprintf("  %-14s %s", d.Name, d.Description)
			if len(d.Schema.Required) > 0 {
				line += fmt.Sprintf(" (requires: %s)", strings.Join(d.Schema.Required, ", "))
			}
			fmt.Println(line)
		}
		fmt.Println()
	}
	return nil
}

// showStats displays substrate status and aggregates
func showStats(cmd *cobra.Command, args []string) error {
	rt, err := buildHarness()
	if err != nil {
		return err
	}
	defer rt.shutdown()

	fmt.Println("grip Substrate Status")
	fmt.Println("=====================")
	fmt.Printf("Version:   %s\n", version)
	fmt.Printf("Workspace: %s\n", rt.workdir)
	fmt.Println()

	fmt.Printf("Permissions:  %d deny rules, %d auto-grant rules, %d stored grants\n",
		len(rt.cfg.Permissions.DenyRules), len(rt.cfg.Permissions.AutoGrant), rt.engine.GrantCount())

	fmt.Printf("Capabilities: %d registered\n", rt.caps.Count())
	for _, cat := range rt.caps.Categories() {
		var names []string
		for _, d := range rt.caps.ByCategory(cat) {
			names = append(names, d.Name)
		}
		fmt.Printf("  %-8s %s\n", string(cat)+":", strings.Join(names, ", "))
	}

	cs := rt.caps.Stats()
	if cs.Window > 0 {
		fmt.Printf("Outcomes:     %d recorded, %.0f%% success\n", cs.Window, cs.SuccessRate*100)
	}

	ss := rt.sessions.Stats()
	fmt.Printf("Sessions:     %d active, %d commands executed\n", ss.ActiveSessions, ss.TotalCommands)
	for _, s := range ss.Sessions {
		mark := "✓"
		if !s.Healthy {
			mark = "✗"
		}
		fmt.Printf("  %s %-12s queue=%d commands=%d workdir=%s\n",
			mark, s.ID, s.QueueDepth, s.CommandCount, s.Workdir)
	}
	return nil
}

// printResult writes a command result the way the shell would have.
func printResult(res *session.Result) {
	if res.Stdout != "" {
		fmt.Print(res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprint(os.Stderr, res.Stderr)
	}
	if res.Truncated {
		fmt.Fprintf(os.Stderr, "grip: output truncated (%d bytes dropped)\n", res.TruncatedBytes)
	}
}

// outcomeErr converts a failed outcome into a printable error, surfacing
// suggestions as hints first.
func outcomeErr(out capability.Outcome) error {
	if out.Success {
		return nil
	}
	if out.Error == nil {
		return fmt.Errorf("capability failed")
	}
	for _, s := range out.Error.Suggestions {
		fmt.Fprintf(os.Stderr, "hint: %s\n", s)
	}
	return out.Error
}

// promptDecision asks the user to decide a permission request on stdin.
func promptDecision(req permission.Request) bool {
	target := req.Command
	if target == "" {
		target = req.Path
	}
	fmt.Fprintf(os.Stderr, "allow %s %q (%s scope)? [y/N] ", req.Type, target, req.Scope)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// parseEnvPairs turns KEY=VALUE flags into the env input map.
func parseEnvPairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

// parseScalar interprets a key=value right-hand side. Numbers and booleans
// convert so schema type checks see what a JSON caller would have sent.
func parseScalar(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return int(n)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
