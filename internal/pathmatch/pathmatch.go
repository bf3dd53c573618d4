// Package pathmatch matches request paths against slash-separated patterns.
// A segment may use path.Match syntax; "**" matches any number of segments.
package pathmatch

import (
	"fmt"
	"path"
	"strings"
)

type Set struct {
	patterns [][]string
}

// Compile validates patterns and returns a Set. An empty list matches nothing.
func Compile(patterns []string) (*Set, error) {
	s := &Set{patterns: make([][]string, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		segs := split(p)
		for _, seg := range segs {
			if seg == "**" {
				continue
			}
			if _, err := path.Match(seg, ""); err != nil {
				return nil, fmt.Errorf("path pattern %q: %w", p, err)
			}
		}
		s.patterns = append(s.patterns, segs)
	}
	return s, nil
}

// MustCompile is Compile for hard-coded patterns.
func MustCompile(patterns ...string) *Set {
	s, err := Compile(patterns)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Set) Empty() bool {
	return s == nil || len(s.patterns) == 0
}

// Match reports whether urlPath matches any pattern.
func (s *Set) Match(urlPath string) bool {
	if s.Empty() {
		return false
	}
	segs := split(path.Clean("/" + urlPath))
	for _, p := range s.patterns {
		if matchSegments(p, segs) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, segs []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(segs); i++ {
				if matchSegments(rest, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], segs[0]); !ok {
			return false
		}
		pattern, segs = pattern[1:], segs[1:]
	}
	return len(segs) == 0
}

func split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
