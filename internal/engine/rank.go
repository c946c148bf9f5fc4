package engine

import (
	"regexp"
	"sort"

	"github.com/gobwas/glob"
)

// Filter decides which keys are hidden from rankings.
type Filter struct {
	pattern *regexp.Regexp
	globs   []glob.Glob
}

// NewFilter compiles the exclusion rules in s. Rules that fail to compile are
// skipped, so a bad pattern disables that rule instead of failing the query.
func NewFilter(s Settings) *Filter {
	f := &Filter{}
	if s.ExcludePathPattern != "" {
		if re, err := regexp.Compile(s.ExcludePathPattern); err == nil {
			f.pattern = re
		}
	}
	for _, g := range s.ExcludeGlobs {
		if g == "" {
			continue
		}
		compiled, err := glob.Compile(g, '/')
		if err != nil {
			continue
		}
		f.globs = append(f.globs, compiled)
	}
	return f
}

// Excluded reports whether key should be hidden.
func (f *Filter) Excluded(key string) bool {
	if f.pattern != nil && f.pattern.MatchString(key) {
		return true
	}
	for _, g := range f.globs {
		if g.Match(key) {
			return true
		}
	}
	return false
}

// Rank projects records into entries sorted by frecency at time now.
// Ties break on lastAccess descending, then key ascending. limit <= 0 returns
// every entry. Records are never modified.
func Rank(records Records, s Settings, now int64, limit int) []Entry {
	filter := NewFilter(s)

	entries := make([]Entry, 0, len(records))
	for key, r := range records {
		if filter.Excluded(key) {
			continue
		}
		entries = append(entries, Entry{
			Key:        key,
			Score:      r.Score,
			LastAccess: r.LastAccess,
			Frecency:   Frecency(*r, now),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Frecency != b.Frecency {
			return a.Frecency > b.Frecency
		}
		if a.LastAccess != b.LastAccess {
			return a.LastAccess > b.LastAccess
		}
		return a.Key < b.Key
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
