package cache

import (
	"fmt"
	"regexp"
)

// ExclusionList holds models that must never be cached: exact names plus
// compiled patterns.
type ExclusionList struct {
	exact    map[string]bool
	patterns []*regexp.Regexp
}

// NewExclusionList compiles the exclusion rules. Invalid patterns are
// reported, not ignored.
func NewExclusionList(exact []string, patterns []string) (*ExclusionList, error) {
	el := &ExclusionList{exact: make(map[string]bool, len(exact))}
	for _, e := range exact {
		el.exact[e] = true
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("cache: invalid exclusion pattern %q: %w", p, err)
		}
		el.patterns = append(el.patterns, re)
	}
	return el, nil
}

// Matches reports whether the model is excluded from caching.
func (el *ExclusionList) Matches(model string) bool {
	if el == nil {
		return false
	}
	if el.exact[model] {
		return true
	}
	for _, re := range el.patterns {
		if re.MatchString(model) {
			return true
		}
	}
	return false
}
