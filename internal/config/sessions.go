package config

// SessionsConfig configures session lifecycle and the registry.
type SessionsConfig struct {
	// Per-session bounded command history
	HistoryLimit int `yaml:"history_limit"`

	// Buffered FIFO depth before Exec blocks
	QueueCapacity int `yaml:"queue_capacity"`

	// Background liveness probe interval (empty disables the loop)
	HealthInterval string `yaml:"health_interval"`

	// IPC completion poll fallback interval
	PollInterval string `yaml:"poll_interval"`
}
