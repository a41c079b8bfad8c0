// Package redact implements harlite's name-matching and PII-scanning
// pipelines (spec §4.9). Grounded on original_source/src/commands/
// redact.rs and pii.rs.
package redact

import (
	"regexp"
	"strings"
)

// NameMatchMode selects how header/cookie/query-parameter names are
// matched against a configured pattern set.
type NameMatchMode int

const (
	Exact NameMatchMode = iota
	Wildcard
	Regex
)

// NameMatcher matches candidate names against a compiled pattern set.
type NameMatcher struct {
	mode     NameMatchMode
	exact    map[string]bool
	wildcard []string
	regex    []*regexp.Regexp
}

// NewNameMatcher compiles patterns under mode. Wildcard patterns use '*' for
// any run and '?' for one char, matched case-insensitively.
func NewNameMatcher(mode NameMatchMode, patterns []string) (*NameMatcher, error) {
	m := &NameMatcher{mode: mode}
	switch mode {
	case Exact:
		m.exact = make(map[string]bool, len(patterns))
		for _, p := range patterns {
			m.exact[strings.ToLower(p)] = true
		}
	case Wildcard:
		m.wildcard = append([]string{}, patterns...)
	case Regex:
		for _, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, err
			}
			m.regex = append(m.regex, re)
		}
	}
	return m, nil
}

// Match reports whether name matches the pattern set.
func (m *NameMatcher) Match(name string) bool {
	switch m.mode {
	case Exact:
		return m.exact[strings.ToLower(name)]
	case Wildcard:
		lower := strings.ToLower(name)
		for _, p := range m.wildcard {
			if wildcardMatch(strings.ToLower(p), lower) {
				return true
			}
		}
		return false
	case Regex:
		for _, re := range m.regex {
			if re.MatchString(name) {
				return true
			}
		}
		return false
	}
	return false
}

// wildcardMatch implements greedy '*'/'?' matching with backtracking to the
// last star anchor, byte-indexed, matching the original's
// redact.rs::wildcard_match exactly.
func wildcardMatch(pattern, text string) bool {
	p, t := []byte(pattern), []byte(text)
	pi, ti := 0, 0
	starIdx, matchIdx := -1, 0

	for ti < len(t) {
		if pi < len(p) && (p[pi] == '?' || p[pi] == t[ti]) {
			pi++
			ti++
		} else if pi < len(p) && p[pi] == '*' {
			starIdx = pi
			matchIdx = ti
			pi++
		} else if starIdx != -1 {
			pi = starIdx + 1
			matchIdx++
			ti = matchIdx
		} else {
			return false
		}
	}

	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// DefaultHeaderPatterns lists sensitive header names redacted by default
// under wildcard mode.
func DefaultHeaderPatterns() []string {
	return []string{
		"authorization", "cookie", "set-cookie", "x-api-key", "x-auth-token",
		"x-csrf-token", "proxy-authorization", "x-access-token", "x-session-id", "api-key",
	}
}

// DefaultCookiePatterns matches every cookie by default.
func DefaultCookiePatterns() []string {
	return []string{"*"}
}
