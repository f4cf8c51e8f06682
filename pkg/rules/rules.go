// Package rules holds the filter rules supplied to the upstream source.
//
// A Set is an immutable, ordered list of FilterRules. It is built from a
// file or an interactive prompt before a session starts and is checked
// against the provider's limits with Validate, which rejects oversized
// configurations instead of truncating them.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"streamscraper/pkg/models"
)

var (
	// ErrEmpty is returned when a rule set has no rules
	ErrEmpty = errors.New("rule set is empty")
	// ErrTooManyRules is returned when a rule set exceeds Limits.MaxRules
	ErrTooManyRules = errors.New("too many rules")
	// ErrPatternTooLong is returned when a pattern exceeds Limits.MaxPatternLength
	ErrPatternTooLong = errors.New("rule pattern too long")
	// ErrEmptyPattern is returned for a rule with a blank pattern
	ErrEmptyPattern = errors.New("rule pattern is empty")
)

// Limits are the provider-imposed bounds on a rule set
type Limits struct {
	MaxRules         int
	MaxPatternLength int
}

// DefaultLimits matches the upstream's standard access tier
func DefaultLimits() Limits {
	return Limits{MaxRules: 25, MaxPatternLength: 512}
}

// Set is an ordered list of filter rules. The zero value is an empty set.
type Set struct {
	rules []models.FilterRule
}

// New returns a Set holding a copy of rules
func New(rules ...models.FilterRule) Set {
	copied := make([]models.FilterRule, len(rules))
	copy(copied, rules)
	return Set{rules: copied}
}

// FromPatterns builds a Set from bare patterns, tagging each with tag
func FromPatterns(patterns []string, tag string) Set {
	rules := make([]models.FilterRule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, models.FilterRule{Pattern: p, Tag: tag})
	}
	return Set{rules: rules}
}

// FromActive builds a Set from rules reported by the upstream
func FromActive(active []models.ActiveRule) Set {
	rules := make([]models.FilterRule, 0, len(active))
	for _, r := range active {
		rules = append(rules, models.FilterRule{Pattern: r.Pattern, Tag: r.Tag})
	}
	return Set{rules: rules}
}

// Rules returns a copy of the rules in order
func (s Set) Rules() []models.FilterRule {
	copied := make([]models.FilterRule, len(s.rules))
	copy(copied, s.rules)
	return copied
}

// Patterns returns the rule patterns in order
func (s Set) Patterns() []string {
	patterns := make([]string, len(s.rules))
	for i, r := range s.rules {
		patterns[i] = r.Pattern
	}
	return patterns
}

// Len returns the number of rules
func (s Set) Len() int {
	return len(s.rules)
}

// Validate checks the set against limits. Every violation is reported.
func (s Set) Validate(limits Limits) error {
	if len(s.rules) == 0 {
		return ErrEmpty
	}

	var errs []error
	if limits.MaxRules > 0 && len(s.rules) > limits.MaxRules {
		errs = append(errs, fmt.Errorf("%w: %d rules, limit is %d", ErrTooManyRules, len(s.rules), limits.MaxRules))
	}
	for i, r := range s.rules {
		if strings.TrimSpace(r.Pattern) == "" {
			errs = append(errs, fmt.Errorf("rule #%d: %w", i+1, ErrEmptyPattern))
			continue
		}
		if n := utf8.RuneCountInString(r.Pattern); limits.MaxPatternLength > 0 && n > limits.MaxPatternLength {
			errs = append(errs, fmt.Errorf("rule #%d: %w: %d characters, limit is %d", i+1, ErrPatternTooLong, n, limits.MaxPatternLength))
		}
	}
	return errors.Join(errs...)
}

// String renders the set as a numbered list
func (s Set) String() string {
	var b strings.Builder
	for i, r := range s.rules {
		fmt.Fprintf(&b, "#%d. %s", i+1, r.Pattern)
		if r.Tag != "" {
			fmt.Fprintf(&b, " [%s]", r.Tag)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
