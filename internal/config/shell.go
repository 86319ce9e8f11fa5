package config

// ShellConfig configures the persistent shell substrate.
type ShellConfig struct {
	// Shell binary used for sessions and syntax dry-runs
	Binary string `yaml:"binary"`

	// Default timeout for commands
	DefaultTimeout string `yaml:"default_timeout"`

	// Ceiling applied to per-request timeouts
	MaxTimeout string `yaml:"max_timeout"`

	// Per-stream cap on captured stdout/stderr
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// Environment variables inherited by session processes
	AllowedEnvVars []string `yaml:"allowed_env_vars"`
}
