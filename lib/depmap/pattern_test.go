// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmap

import (
	"errors"
	"testing"
)

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.so", "libz.so", true},
		{"*.so", "lib/libz.so", false},
		{"*.so", "libz.so.1", false},
		{"lib/*", "lib/libz.so", true},
		{"lib/*", "lib/x/libz.so", false},
		{"**", "anything/at/all", true},
		{"lib/**", "lib", true},
		{"lib/**", "lib/x/y", true},
		{"lib/**", "libexec/x", false},
		{"**/*.h", "a.h", true},
		{"**/*.h", "include/sys/a.h", true},
		{"**/*.h", "include/sys/a.c", false},
		{"src/**/test/*.go", "src/test/a.go", true},
		{"src/**/test/*.go", "src/x/y/test/a.go", true},
		{"src/**/test/*.go", "src/x/y/a.go", false},
		{"**/bin/**", "usr/local/bin/tool", true},
		{"file-?", "file-a", true},
		{"file-[0-9]", "file-7", true},
		{"file-[0-9]", "file-x", false},
		{"re:.*\\.so(\\.[0-9]+)*", "lib/libz.so.1", true},
		{"re:.*\\.so(\\.[0-9]+)*", "lib/libz.a", false},
		{"re:lib", "lib/x", false},
		{"re:.*", "any/path", true},
	}
	for _, test := range tests {
		t.Run(test.pattern+"|"+test.path, func(t *testing.T) {
			pattern, err := CompilePattern(test.pattern)
			if err != nil {
				t.Fatalf("CompilePattern(%q): %v", test.pattern, err)
			}
			if got := pattern.Match(test.path); got != test.want {
				t.Errorf("%q.Match(%q) = %v, want %v", test.pattern, test.path, got, test.want)
			}
		})
	}
}

func TestCompilePatternErrors(t *testing.T) {
	bad := []string{"", "/abs", "a//b", "a**", "lib/[", "re:(unclosed"}
	for _, source := range bad {
		if _, err := CompilePattern(source); !errors.Is(err, ErrBadPattern) {
			t.Errorf("CompilePattern(%q) error = %v, want ErrBadPattern", source, err)
		}
	}
}

func TestPatternsMatchesAll(t *testing.T) {
	tests := []struct {
		sources []string
		want    bool
	}{
		{[]string{"**"}, true},
		{[]string{"*.so", "**"}, true},
		{[]string{"**/**"}, true},
		{[]string{"re:.*"}, true},
		{[]string{"*"}, false},
		{[]string{"**/*"}, false},
		{nil, false},
	}
	for _, test := range tests {
		patterns, err := CompilePatterns(test.sources)
		if err != nil {
			t.Fatalf("CompilePatterns(%q): %v", test.sources, err)
		}
		if got := patterns.MatchesAll(); got != test.want {
			t.Errorf("CompilePatterns(%q).MatchesAll() = %v, want %v", test.sources, got, test.want)
		}
	}
}

func TestEmptyPatternsSelectNothing(t *testing.T) {
	var patterns Patterns
	if patterns.Match("a") {
		t.Error("empty pattern list matched a path")
	}
}
