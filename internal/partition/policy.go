// Package partition splits ordered file sequences into fixed-size job groups.
package partition

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidPolicy is returned by Validate for unusable sizing policies.
var ErrInvalidPolicy = errors.New("invalid sizing policy")

// Rule assigns a group size to categories matching Pattern.
// A pattern ending in "*" matches by prefix, anything else must match exactly.
type Rule struct {
	Priority int    `yaml:"priority"`
	Pattern  string `yaml:"pattern"`
	Size     int    `yaml:"size"`
}

// Matches reports whether the rule applies to a category name.
func (r Rule) Matches(category string) bool {
	if prefix, ok := strings.CutSuffix(r.Pattern, "*"); ok {
		return strings.HasPrefix(category, prefix)
	}
	return category == r.Pattern
}

// Policy maps dataset category names to the number of files per job.
type Policy struct {
	Rules   []Rule `yaml:"rules"`
	Default int    `yaml:"default"`
}

// GroupSize resolves the number of files per job for a category.
// Rules are evaluated in ascending priority; rules sharing a priority keep
// their declaration order. The first match wins, otherwise Default.
func (p Policy) GroupSize(category string) int {
	for _, r := range p.ordered() {
		if r.Matches(category) {
			return r.Size
		}
	}
	return p.Default
}

func (p Policy) ordered() []Rule {
	rules := make([]Rule, len(p.Rules))
	copy(rules, p.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
	return rules
}

// Validate checks that every size is positive and every pattern non-empty.
func (p Policy) Validate() error {
	if p.Default < 1 {
		return fmt.Errorf("%w: default size %d must be at least 1", ErrInvalidPolicy, p.Default)
	}
	for i, r := range p.Rules {
		if r.Pattern == "" {
			return fmt.Errorf("%w: rule %d has an empty pattern", ErrInvalidPolicy, i)
		}
		if r.Size < 1 {
			return fmt.Errorf("%w: rule %q size %d must be at least 1", ErrInvalidPolicy, r.Pattern, r.Size)
		}
	}
	return nil
}
