package config

// PermissionsConfig declares the permission engine's rule sets. Patterns are
// Go regular expressions, compiled when the engine is constructed.
type PermissionsConfig struct {
	// Expiry window for temporary-scope grants
	TemporaryGrantTTL string `yaml:"temporary_grant_ttl"`

	// Always-deny rules, checked first, any match denies
	DenyRules []DenyRuleConfig `yaml:"deny_rules"`

	// Auto-grant rules, checked after stored grants
	AutoGrant []AutoGrantRuleConfig `yaml:"auto_grant"`
}

// DenyRuleConfig is one always-deny pattern. At least one of Command or Path
// must be set; a rule with both requires both to match.
type DenyRuleConfig struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// AutoGrantRuleConfig is one auto-grant pattern. Type and Scope must equal
// the request's; Command/Path, when set, must match the request's.
type AutoGrantRuleConfig struct {
	Type    string `yaml:"type"`
	Scope   string `yaml:"scope"`
	Command string `yaml:"command,omitempty"`
	Path    string `yaml:"path,omitempty"`
}
