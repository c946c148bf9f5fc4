package engine

import "errors"

// ErrEmptyKey is returned at the API and CLI boundary for blank keys.
// The tracker itself treats a blank key as a no-op.
var ErrEmptyKey = errors.New("key required")

// Record is the usage state for a single tracked key.
type Record struct {
	Score      float64 `json:"score"`
	LastAccess int64   `json:"lastAccess"` // unix millis of the last counted visit
}

// Records maps a tracked key to its record. There is exactly one record per key.
type Records map[string]*Record

// Clone returns a deep copy.
func (rs Records) Clone() Records {
	out := make(Records, len(rs))
	for k, r := range rs {
		c := *r
		out[k] = &c
	}
	return out
}

// Settings is the process-wide configuration read by the engine.
// It is persisted alongside the records.
type Settings struct {
	MaxAge             float64  `json:"maxAge"`             // ceiling for the sum of all scores; <= 0 disables aging
	MaxItems           int      `json:"maxItems"`           // cap for the bounded ranking
	ExcludePathPattern string   `json:"excludePathPattern"` // regular expression
	ExcludeGlobs       []string `json:"excludeGlobs,omitempty"`
	RecordOnEveryVisit bool     `json:"recordOnEveryVisit"`
	ShowExtension      bool     `json:"showExtension"` // display only
}

// DefaultSettings returns the settings used when nothing has been persisted yet.
func DefaultSettings() Settings {
	return Settings{
		MaxAge:   1000,
		MaxItems: 50,
	}
}

// Entry is one row of a ranking.
type Entry struct {
	Key        string  `json:"key"`
	Score      float64 `json:"score"`
	LastAccess int64   `json:"lastAccess"`
	Frecency   float64 `json:"frecency"`
}
