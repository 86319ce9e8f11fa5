package config

// CapabilitiesConfig configures the capability registry.
type CapabilitiesConfig struct {
	// Bounded execution history feeding aggregate statistics
	HistoryLimit int `yaml:"history_limit"`
}
