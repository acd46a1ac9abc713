// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmap

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// regexpPrefix selects regular-expression syntax for a pattern.
const regexpPrefix = "re:"

// Pattern selects paths relative to the root of a filtered merge.
//
// Patterns are globs by default, matched against the whole relative
// path one segment at a time:
//
//   - "*.so" matches "libz.so" but not "lib/libz.so"
//   - "lib/*" matches "lib/libz.so" but not "lib/x/libz.so"
//   - "**" matches any path
//   - "lib/**" matches "lib" and everything beneath it
//   - "**/*.h" matches "*.h" files at any depth
//   - "src/**/test/*.go" matches with zero or more segments in between
//
// "*", "?" and character classes follow path.Match and never cross a
// separator. "**" must be a whole segment. A "re:" prefix selects an
// RE2 regular expression instead, anchored at both ends.
type Pattern struct {
	source   string
	segments []string
	regexp   *regexp.Regexp
	all      bool
}

// CompilePattern parses one pattern. Malformed input returns an error
// wrapping [ErrBadPattern].
func CompilePattern(source string) (*Pattern, error) {
	if expression, ok := strings.CutPrefix(source, regexpPrefix); ok {
		compiled, err := regexp.Compile("^(?s:" + expression + ")$")
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrBadPattern, source, err)
		}
		return &Pattern{source: source, regexp: compiled, all: expression == ".*"}, nil
	}

	if source == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrBadPattern)
	}
	if strings.HasPrefix(source, "/") {
		return nil, fmt.Errorf("%w %q: patterns are relative", ErrBadPattern, source)
	}

	segments := strings.Split(source, "/")
	for _, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("%w %q: empty segment", ErrBadPattern, source)
		}
		if segment == "**" {
			continue
		}
		if strings.Contains(segment, "**") {
			return nil, fmt.Errorf("%w %q: ** must be a whole segment", ErrBadPattern, source)
		}
		if _, err := path.Match(segment, ""); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrBadPattern, source, err)
		}
	}

	all := true
	for _, segment := range segments {
		if segment != "**" {
			all = false
			break
		}
	}
	return &Pattern{source: source, segments: segments, all: all}, nil
}

// String returns the pattern source.
func (p *Pattern) String() string { return p.source }

// MatchesAll reports whether p matches every path, which lets a
// filtered merge keep the subtree shared instead of copying it.
func (p *Pattern) MatchesAll() bool { return p.all }

// Match reports whether the normalized relative path matches.
func (p *Pattern) Match(relative string) bool {
	if p.all {
		return true
	}
	if p.regexp != nil {
		return p.regexp.MatchString(relative)
	}
	return matchSegments(p.segments, splitPath(relative))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for skip := 0; skip <= len(name); skip++ {
				if matchSegments(rest, name[skip:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		matched, err := path.Match(pattern[0], name[0])
		if err != nil || !matched {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}

// Patterns is a compiled pattern list. A path is selected when any
// pattern matches it; an empty list selects nothing.
type Patterns []*Pattern

// CompilePatterns compiles every source, failing on the first
// malformed one.
func CompilePatterns(sources []string) (Patterns, error) {
	compiled := make(Patterns, 0, len(sources))
	for _, source := range sources {
		pattern, err := CompilePattern(source)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, pattern)
	}
	return compiled, nil
}

// Match reports whether any pattern matches relative.
func (patterns Patterns) Match(relative string) bool {
	for _, pattern := range patterns {
		if pattern.Match(relative) {
			return true
		}
	}
	return false
}

// MatchesAll reports whether some pattern matches every path.
func (patterns Patterns) MatchesAll() bool {
	for _, pattern := range patterns {
		if pattern.all {
			return true
		}
	}
	return false
}
