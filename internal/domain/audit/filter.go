package audit

import (
	"fmt"

	"github.com/astro-web3/projecthub-auth/internal/pathmatch"
)

// Filter selects the paths that are audited. Exclusions win over
// inclusions; an empty include list includes everything.
type Filter struct {
	include *pathmatch.Set
	exclude *pathmatch.Set
}

func NewFilter(include, exclude []string) (*Filter, error) {
	in, err := pathmatch.Compile(include)
	if err != nil {
		return nil, fmt.Errorf("audit include paths: %w", err)
	}
	ex, err := pathmatch.Compile(exclude)
	if err != nil {
		return nil, fmt.Errorf("audit exclude paths: %w", err)
	}
	return &Filter{include: in, exclude: ex}, nil
}

func (f *Filter) ShouldAudit(path string) bool {
	if f == nil {
		return true
	}
	if f.exclude.Match(path) {
		return false
	}
	return f.include.Empty() || f.include.Match(path)
}
