// Package policy loads operator-controlled validation and quota settings
// from a YAML file.
package policy

import (
	"fmt"
	"os"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Policy tightens or relaxes the validator and quota defaults. Nil
// thresholds leave the configured value unchanged.
//
//	validation:
//	  max_subquery_depth: 1
//	  max_unions: 2
//	  deny_patterns:
//	    - 'pg_read_file\s*\('           # name defaults to the pattern
//	    - name: information_schema
//	      pattern: '\binformation_schema\b'
//	quota:
//	  per_identity_limit: 20
//	  max_global_daily: 500
type Policy struct {
	Validation ValidationPolicy `yaml:"validation"`
	Quota      QuotaPolicy      `yaml:"quota"`

	compiled []domain.DenyPattern
}

type ValidationPolicy struct {
	MaxSubqueryDepth *int          `yaml:"max_subquery_depth"`
	MaxUnions        *int          `yaml:"max_unions"`
	DenyPatterns     []PatternRule `yaml:"deny_patterns"`
}

type QuotaPolicy struct {
	PerIdentityLimit *int `yaml:"per_identity_limit"`
	MaxGlobalDaily   *int `yaml:"max_global_daily"`
}

// PatternRule is one extra deny pattern.
type PatternRule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// UnmarshalYAML accepts either a bare pattern string or a name/pattern map.
func (r *PatternRule) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		r.Pattern = value.Value
		return nil
	}
	type alias PatternRule
	var a alias
	if err := value.Decode(&a); err != nil {
		return fmt.Errorf("decoding deny pattern: %w", err)
	}
	*r = PatternRule(a)
	return nil
}

// LoadFromFile reads a YAML policy file and returns a validated Policy with
// its deny patterns compiled.
func LoadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var pol Policy
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}

	if err := pol.compile(); err != nil {
		return nil, fmt.Errorf("validating policy: %w", err)
	}

	return &pol, nil
}

func (p *Policy) compile() error {
	for name, v := range map[string]*int{
		"validation.max_subquery_depth": p.Validation.MaxSubqueryDepth,
		"quota.per_identity_limit":      p.Quota.PerIdentityLimit,
		"quota.max_global_daily":        p.Quota.MaxGlobalDaily,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s: must not be negative, got %d", name, *v)
		}
	}
	if u := p.Validation.MaxUnions; u != nil && *u == 0 {
		return fmt.Errorf("validation.max_unions: must be positive, or -1 to disable the count check")
	}

	seen := make(map[string]bool, len(p.Validation.DenyPatterns))
	p.compiled = make([]domain.DenyPattern, 0, len(p.Validation.DenyPatterns))
	for i, rule := range p.Validation.DenyPatterns {
		if rule.Pattern == "" {
			return fmt.Errorf("validation.deny_patterns[%d]: pattern is empty", i)
		}
		name := rule.Name
		if name == "" {
			name = rule.Pattern
		}
		if seen[name] {
			return fmt.Errorf("validation.deny_patterns[%d]: duplicate name %q", i, name)
		}
		seen[name] = true

		dp, err := domain.NewDenyPattern(name, rule.Pattern)
		if err != nil {
			return fmt.Errorf("validation.deny_patterns[%d]: %w", i, err)
		}
		p.compiled = append(p.compiled, dp)
	}
	return nil
}

// DenyPatterns returns the compiled extra patterns, in file order.
func (p *Policy) DenyPatterns() []domain.DenyPattern {
	return p.compiled
}

// Thresholds is the subset of settings a policy may override.
type Thresholds struct {
	MaxSubqueryDepth int
	MaxUnions        int
	PerIdentityLimit int
	MaxGlobalDaily   int
}

// Apply returns t with every threshold the policy sets replaced.
func (p *Policy) Apply(t Thresholds) Thresholds {
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	set(&t.MaxSubqueryDepth, p.Validation.MaxSubqueryDepth)
	set(&t.MaxUnions, p.Validation.MaxUnions)
	set(&t.PerIdentityLimit, p.Quota.PerIdentityLimit)
	set(&t.MaxGlobalDaily, p.Quota.MaxGlobalDaily)
	return t
}
