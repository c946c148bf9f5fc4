// Package events reads host activity streams: one JSON object per line
// describing opens, closes, renames, deletions and open-set snapshots.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// maxLine bounds a single event line; snapshots of large vaults are long.
const maxLine = 1024 * 1024

// Type names an event kind.
type Type string

const (
	TypeOpen     Type = "open"
	TypeClose    Type = "close"
	TypeRename   Type = "rename"
	TypeDelete   Type = "delete"
	TypeRemove   Type = "remove"
	TypeSnapshot Type = "snapshot"
)

// Event is one line of a host activity stream.
type Event struct {
	Type   Type     `json:"type"`
	Key    string   `json:"key,omitempty"`
	OldKey string   `json:"old_key,omitempty"`
	NewKey string   `json:"new_key,omitempty"`
	Keys   []string `json:"keys,omitempty"`
	TS     int64    `json:"ts,omitempty"` // unix millis; 0 means "now"
}

// Valid reports whether e carries the fields its type needs.
func (e Event) Valid() bool {
	switch e.Type {
	case TypeOpen, TypeClose, TypeDelete, TypeRemove:
		return e.Key != ""
	case TypeRename:
		return e.OldKey != "" && e.NewKey != ""
	case TypeSnapshot:
		return true
	}
	return false
}

// Parse reads a JSONL stream. Blank, malformed and invalid lines are
// skipped and counted; only read errors are returned.
func Parse(r io.Reader) ([]Event, int, error) {
	var out []Event
	skipped := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil || !e.Valid() {
			skipped++
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scan events: %w", err)
	}
	return out, skipped, nil
}

// ParseFile reads a JSONL event file.
func ParseFile(path string) ([]Event, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open events: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Sink receives events. *engine.Tracker satisfies it.
type Sink interface {
	Now() int64
	RecordVisit(key string, now int64) bool
	CloseKey(key string)
	HandleRename(oldKey, newKey string)
	HandleDelete(key string) bool
	RemoveEntry(key string) bool
	SetOpen(keys []string)
}

// Result tallies what Apply did.
type Result struct {
	Opens     int `json:"opens"`
	Counted   int `json:"counted"`
	Closes    int `json:"closes"`
	Renames   int `json:"renames"`
	Deletes   int `json:"deletes"`
	Removes   int `json:"removes"`
	Snapshots int `json:"snapshots"`
}

// Apply dispatches events to sink in order.
func Apply(sink Sink, evs []Event) Result {
	var res Result
	for _, e := range evs {
		switch e.Type {
		case TypeOpen:
			ts := e.TS
			if ts == 0 {
				ts = sink.Now()
			}
			res.Opens++
			if sink.RecordVisit(e.Key, ts) {
				res.Counted++
			}
		case TypeClose:
			sink.CloseKey(e.Key)
			res.Closes++
		case TypeRename:
			sink.HandleRename(e.OldKey, e.NewKey)
			res.Renames++
		case TypeDelete:
			if sink.HandleDelete(e.Key) {
				res.Deletes++
			}
		case TypeRemove:
			if sink.RemoveEntry(e.Key) {
				res.Removes++
			}
		case TypeSnapshot:
			sink.SetOpen(e.Keys)
			res.Snapshots++
		}
	}
	return res
}
