// internal/route/filter.go

// Package route decides which records a sink is offered.
package route

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/orgoj/logrelay/internal/config"
	"github.com/orgoj/logrelay/internal/record"
)

// Filter holds the pre-compiled routing condition of one sink. The zero
// value accepts every record.
type Filter struct {
	patterns []string
	globs    []glob.Glob // Pre-compiled logger name patterns, '.' separated
	minLevel record.Level
}

// NewFilter compiles the match patterns and minimum level of a sink.
func NewFilter(patterns []string, minLevel string) (*Filter, error) {
	f := &Filter{patterns: patterns}
	if minLevel != "" {
		lvl, err := record.ParseLevel(minLevel)
		if err != nil {
			return nil, err
		}
		f.minLevel = lvl
	}
	if len(patterns) > 0 {
		f.globs = make([]glob.Glob, 0, len(patterns))
		for _, pattern := range patterns {
			g, err := glob.Compile(pattern, '.')
			if err != nil {
				return nil, fmt.Errorf("invalid match pattern '%s': %w", pattern, err)
			}
			f.globs = append(f.globs, g)
		}
	}
	return f, nil
}

// FromConfig compiles the filter of a sink configuration.
func FromConfig(cfg config.SinkConfig) (*Filter, error) {
	f, err := NewFilter(cfg.Match, cfg.MinLevel)
	if err != nil {
		return nil, fmt.Errorf("sink '%s': %w", cfg.Name, err)
	}
	return f, nil
}

// Allows reports whether rec passes the level threshold and, when
// patterns are configured, whether its logger name matches one of them.
func (f *Filter) Allows(rec *record.Record) bool {
	if f == nil {
		return true
	}
	if rec.Level() < f.minLevel {
		return false
	}
	if len(f.globs) == 0 {
		return true
	}
	name := rec.Logger()
	for _, g := range f.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// String describes the filter for diagnostics.
func (f *Filter) String() string {
	if f == nil || (len(f.globs) == 0 && f.minLevel == 0) {
		return "all"
	}
	s := ""
	if f.minLevel > 0 {
		s = ">=" + f.minLevel.String()
	}
	if len(f.patterns) > 0 {
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("match %v", f.patterns)
	}
	return s
}
