package permission

import (
	"fmt"
	"regexp"

	"grip/internal/config"
)

// denyRule is a compiled always-deny pattern. A rule with both patterns set
// requires both to match; a rule matches only against fields the request
// actually carries.
type denyRule struct {
	name    string
	command *regexp.Regexp
	path    *regexp.Regexp
}

func (r denyRule) matches(req Request) bool {
	if r.command == nil && r.path == nil {
		return false
	}
	if r.command != nil {
		if req.Command == "" || !r.command.MatchString(req.Command) {
			return false
		}
	}
	if r.path != nil {
		if req.Path == "" || !r.path.MatchString(req.Path) {
			return false
		}
	}
	return true
}

// autoGrantRule is a compiled auto-grant pattern. Type and scope must equal
// the request's; command/path patterns, when present, must match.
type autoGrantRule struct {
	typ     Type
	scope   Scope
	command *regexp.Regexp
	path    *regexp.Regexp
}

func (r autoGrantRule) matches(req Request) bool {
	if r.typ != req.Type || r.scope != req.Scope {
		return false
	}
	if r.command != nil && !r.command.MatchString(req.Command) {
		return false
	}
	if r.path != nil && !r.path.MatchString(req.Path) {
		return false
	}
	return true
}

func compileDenyRules(rules []config.DenyRuleConfig) ([]denyRule, error) {
	compiled := make([]denyRule, 0, len(rules))
	for i, rc := range rules {
		if rc.Command == "" && rc.Path == "" {
			return nil, fmt.Errorf("deny rule %d (%s): needs a command or path pattern", i, rc.Name)
		}
		rule := denyRule{name: rc.Name}
		var err error
		if rc.Command != "" {
			if rule.command, err = regexp.Compile(rc.Command); err != nil {
				return nil, fmt.Errorf("deny rule %d (%s): bad command pattern: %w", i, rc.Name, err)
			}
		}
		if rc.Path != "" {
			if rule.path, err = regexp.Compile(rc.Path); err != nil {
				return nil, fmt.Errorf("deny rule %d (%s): bad path pattern: %w", i, rc.Name, err)
			}
		}
		compiled = append(compiled, rule)
	}
	return compiled, nil
}

func compileAutoGrantRules(rules []config.AutoGrantRuleConfig) ([]autoGrantRule, error) {
	compiled := make([]autoGrantRule, 0, len(rules))
	for i, rc := range rules {
		if rc.Type == "" || rc.Scope == "" {
			return nil, fmt.Errorf("auto-grant rule %d: type and scope are required", i)
		}
		rule := autoGrantRule{typ: Type(rc.Type), scope: Scope(rc.Scope)}
		var err error
		if rc.Command != "" {
			if rule.command, err = regexp.Compile(rc.Command); err != nil {
				return nil, fmt.Errorf("auto-grant rule %d: bad command pattern: %w", i, err)
			}
		}
		if rc.Path != "" {
			if rule.path, err = regexp.Compile(rc.Path); err != nil {
				return nil, fmt.Errorf("auto-grant rule %d: bad path pattern: %w", i, err)
			}
		}
		compiled = append(compiled, rule)
	}
	return compiled, nil
}
