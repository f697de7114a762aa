package chitrace

import (
	"fmt"
	"regexp"
	"strings"
)

// excludeList decides whether a request path is exempt from tracing.
// Patterns are regular expressions matched anywhere in the path, so a
// plain substring like "healthz" works as well as an anchored
// expression like "^/internal/".
type excludeList struct {
	patterns []*regexp.Regexp
}

func newExcludeList(patterns []string) (*excludeList, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	l := &excludeList{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("chitrace: invalid excluded URL pattern %q: %w", p, err)
		}
		l.patterns = append(l.patterns, re)
	}
	if len(l.patterns) == 0 {
		return nil, nil
	}
	return l, nil
}

// Disabled reports whether tracing is turned off for the given path.
// A nil list disables nothing.
func (l *excludeList) Disabled(path string) bool {
	if l == nil {
		return false
	}
	for _, re := range l.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
