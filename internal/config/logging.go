package config

// LoggingConfig configures the category logger.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // json, text
	DebugMode  bool            `yaml:"debug_mode"` // master toggle; false writes nothing
	Categories map[string]bool `yaml:"categories"` // per-category toggles, nil enables all
}
