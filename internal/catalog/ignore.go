package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnoreFile is the project-root file listing extra exclusion patterns.
const IgnoreFile = ".modignore"

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// IgnoreMatcher checks project-relative paths against ignore patterns.
// Patterns without '/' match the basename only. Patterns with '/' match the
// whole path and may use '**' to span directories.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines, lines starting with '#' and invalid patterns are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if !doublestar.ValidatePattern(raw) {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether rel, a slash-separated project-relative path,
// should be ignored.
func (m *IgnoreMatcher) Match(rel string) bool {
	base := path.Base(rel)
	for _, p := range m.patterns {
		target := base
		if p.matchPath {
			target = rel
		}
		if ok, _ := doublestar.Match(p.pattern, target); ok {
			return true
		}
	}
	return false
}

// Len is the number of usable patterns.
func (m *IgnoreMatcher) Len() int { return len(m.patterns) }

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
