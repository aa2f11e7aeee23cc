package policy

import (
	"path"
	"strings"

	"offline_coordinator/internal/config"
)

type Pattern struct {
	Class      string
	Extensions []string
	Prefixes   []string
}

// Matcher classifies request paths by an ordered pattern list. The first
// matching pattern wins.
type Matcher struct {
	patterns []Pattern
}

func NewMatcher(patterns []Pattern) *Matcher {
	normalized := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		exts := make([]string, 0, len(p.Extensions))
		for _, ext := range p.Extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			exts = append(exts, ext)
		}
		prefixes := make([]string, 0, len(p.Prefixes))
		for _, prefix := range p.Prefixes {
			if prefix = strings.TrimSpace(prefix); prefix != "" {
				prefixes = append(prefixes, prefix)
			}
		}
		normalized = append(normalized, Pattern{Class: p.Class, Extensions: exts, Prefixes: prefixes})
	}
	return &Matcher{patterns: normalized}
}

func MatcherFromConfig(patterns []config.PatternConfig) *Matcher {
	converted := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		converted = append(converted, Pattern{Class: p.Class, Extensions: p.Extensions, Prefixes: p.Prefixes})
	}
	return NewMatcher(converted)
}

// PrefixMatcher builds a single-class matcher over path prefixes.
func PrefixMatcher(class string, prefixes []string) *Matcher {
	if len(prefixes) == 0 {
		return NewMatcher(nil)
	}
	return NewMatcher([]Pattern{{Class: class, Prefixes: prefixes}})
}

func (m *Matcher) Match(requestPath string) (string, bool) {
	if m == nil {
		return "", false
	}
	ext := strings.ToLower(path.Ext(requestPath))
	for _, p := range m.patterns {
		for _, candidate := range p.Extensions {
			if ext == candidate {
				return p.Class, true
			}
		}
		for _, prefix := range p.Prefixes {
			if strings.HasPrefix(requestPath, prefix) {
				return p.Class, true
			}
		}
	}
	return "", false
}

func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}
