package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a pending save is written.
const DefaultDebounce = 500 * time.Millisecond

// Gateway loads and saves the opaque state blob.
// LoadState returns nil, nil when nothing has been saved yet.
type Gateway interface {
	LoadState(ctx context.Context) ([]byte, error)
	SaveState(ctx context.Context, data []byte) error
}

// Observer is notified after every mutation. Renamed is always delivered
// before the Refreshed call for the same mutation.
type Observer interface {
	Refreshed()
	Renamed(oldKey, newKey string)
}

// TrackerOptions configures a Tracker. The zero value is usable: wall clock,
// synchronous saves, default logger and DefaultSettings.
type TrackerOptions struct {
	Clock    func() int64  // unix millis
	Debounce time.Duration // 0 saves synchronously after each mutation
	Logger   *slog.Logger
	Defaults *Settings // settings used when the blob carries none
}

// Tracker owns the record set and the open-set and applies visit events.
type Tracker struct {
	gw       Gateway
	clock    func() int64
	logger   *slog.Logger
	defaults Settings

	mu        sync.Mutex
	records   Records
	settings  Settings
	open      map[string]struct{}
	observers []Observer
	dirty     bool

	saveMu sync.Mutex
	saver  *debouncer
}

// NewTracker creates a tracker with an empty record set. Call Load to read
// persisted state. gw may be nil for a purely in-memory tracker.
func NewTracker(gw Gateway, opts TrackerOptions) *Tracker {
	t := &Tracker{
		gw:       gw,
		clock:    opts.Clock,
		logger:   opts.Logger,
		defaults: DefaultSettings(),
		records:  Records{},
		open:     make(map[string]struct{}),
	}
	if t.clock == nil {
		t.clock = func() int64 { return time.Now().UnixMilli() }
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if opts.Defaults != nil {
		t.defaults = copySettings(*opts.Defaults)
	}
	t.settings = copySettings(t.defaults)
	if opts.Debounce > 0 {
		t.saver = newDebouncer(opts.Debounce, func() {
			if err := t.persist(context.Background()); err != nil {
				t.logger.Warn("debounced save failed", "error", err)
			}
		})
	}
	return t
}

// Load replaces the in-memory state with the persisted blob. A missing or
// malformed blob yields an empty record set; only gateway I/O errors are
// returned.
func (t *Tracker) Load(ctx context.Context) error {
	var data []byte
	if t.gw != nil {
		var err error
		data, err = t.gw.LoadState(ctx)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
	}
	st := DecodeState(data, t.defaults)

	t.mu.Lock()
	t.records = st.Records
	t.settings = st.Settings
	t.dirty = false
	n := len(t.records)
	t.mu.Unlock()

	t.logger.Debug("state loaded", "records", n)
	return nil
}

// AddObserver registers o for mutation notifications.
func (t *Tracker) AddObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Now reads the tracker's clock.
func (t *Tracker) Now() int64 {
	return t.clock()
}

// RecordVisit handles an activation of key at time now and reports whether
// it counted as a visit. Unless RecordOnEveryVisit is set, activating a key
// that is already open is a tab switch and does not count.
func (t *Tracker) RecordVisit(key string, now int64) bool {
	if key == "" {
		return false
	}

	t.mu.Lock()
	_, wasOpen := t.open[key]
	t.open[key] = struct{}{}
	if wasOpen && !t.settings.RecordOnEveryVisit {
		t.mu.Unlock()
		return false
	}

	if r, ok := t.records[key]; ok {
		r.Score++
		if now > r.LastAccess {
			r.LastAccess = now
		}
	} else {
		t.records[key] = &Record{Score: 1, LastAccess: now}
	}
	pruned := ApplyAging(t.records, t.settings.MaxAge)
	t.dirty = true
	t.mu.Unlock()

	if pruned > 0 {
		t.logger.Debug("aging pruned records", "count", pruned)
	}
	t.changed("", "")
	return true
}

// HandleRename moves the record at oldKey to newKey, merging with an
// existing record there by summing scores and keeping the later lastAccess.
// Open-set membership follows the record. Untracked oldKey is a no-op.
func (t *Tracker) HandleRename(oldKey, newKey string) {
	if oldKey == "" || newKey == "" || oldKey == newKey {
		return
	}

	t.mu.Lock()
	r, ok := t.records[oldKey]
	if !ok {
		t.mu.Unlock()
		return
	}
	if existing, ok := t.records[newKey]; ok {
		existing.Score += r.Score
		if r.LastAccess > existing.LastAccess {
			existing.LastAccess = r.LastAccess
		}
	} else {
		t.records[newKey] = r
	}
	delete(t.records, oldKey)

	if _, open := t.open[oldKey]; open {
		delete(t.open, oldKey)
		t.open[newKey] = struct{}{}
	}
	t.dirty = true
	t.mu.Unlock()

	t.changed(oldKey, newKey)
}

// HandleDelete reacts to the underlying item being deleted. The key leaves
// the open-set; the record, if any, is dropped. Reports whether a record
// existed.
func (t *Tracker) HandleDelete(key string) bool {
	t.mu.Lock()
	delete(t.open, key)
	if _, ok := t.records[key]; !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.records, key)
	t.dirty = true
	t.mu.Unlock()

	t.changed("", "")
	return true
}

// RemoveEntry drops key from the tracked set at the user's request. The item
// itself still exists, so the open-set is left alone.
func (t *Tracker) RemoveEntry(key string) bool {
	t.mu.Lock()
	if _, ok := t.records[key]; !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.records, key)
	t.dirty = true
	t.mu.Unlock()

	t.changed("", "")
	return true
}

// ClearAll empties the record set.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	t.records = Records{}
	t.dirty = true
	t.mu.Unlock()

	t.changed("", "")
}

// Reconcile drops every record and open-set entry whose key is not in
// existing, and returns how many records were removed.
func (t *Tracker) Reconcile(existing []string) int {
	keep := make(map[string]struct{}, len(existing))
	for _, k := range existing {
		keep[k] = struct{}{}
	}

	t.mu.Lock()
	removed := 0
	for key := range t.records {
		if _, ok := keep[key]; !ok {
			delete(t.records, key)
			removed++
		}
	}
	for key := range t.open {
		if _, ok := keep[key]; !ok {
			delete(t.open, key)
		}
	}
	if removed > 0 {
		t.dirty = true
	}
	t.mu.Unlock()

	if removed > 0 {
		t.changed("", "")
	}
	return removed
}

// SetOpen replaces the open-set with a fresh snapshot from the host.
func (t *Tracker) SetOpen(keys []string) {
	open := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			open[k] = struct{}{}
		}
	}
	t.mu.Lock()
	t.open = open
	t.mu.Unlock()
}

// CloseKey removes key from the open-set, so its next activation counts.
func (t *Tracker) CloseKey(key string) {
	t.mu.Lock()
	delete(t.open, key)
	t.mu.Unlock()
}

// IsOpen reports whether key is in the open-set.
func (t *Tracker) IsOpen(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.open[key]
	return ok
}

// OpenKeys returns the open-set, sorted.
func (t *Tracker) OpenKeys() []string {
	t.mu.Lock()
	keys := make([]string, 0, len(t.open))
	for k := range t.open {
		keys = append(keys, k)
	}
	t.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Settings returns a copy of the current settings.
func (t *Tracker) Settings() Settings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copySettings(t.settings)
}

// UpdateSettings replaces the settings. A lowered MaxAge takes effect
// immediately.
func (t *Tracker) UpdateSettings(s Settings) {
	t.mu.Lock()
	t.settings = copySettings(s)
	pruned := ApplyAging(t.records, t.settings.MaxAge)
	t.dirty = true
	t.mu.Unlock()

	if pruned > 0 {
		t.logger.Debug("aging pruned records", "count", pruned)
	}
	t.changed("", "")
}

// Record returns a copy of the record for key.
func (t *Tracker) Record(key string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[key]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// TotalScore returns the sum of all base scores.
func (t *Tracker) TotalScore() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TotalScore(t.records)
}

// Ranked returns the ranking at the current time, capped at limit, or at
// Settings.MaxItems when limit <= 0.
func (t *Tracker) Ranked(limit int) []Entry {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 {
		limit = t.settings.MaxItems
	}
	return Rank(t.records, t.settings, now, limit)
}

// RankedAll returns the full, uncapped ranking at the current time.
func (t *Tracker) RankedAll() []Entry {
	return t.RankedAt(t.clock(), 0)
}

// RankedAt returns the ranking at time now. limit <= 0 is uncapped.
func (t *Tracker) RankedAt(now int64, limit int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Rank(t.records, t.settings, now, limit)
}

// Snapshot returns a deep copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{Records: t.records.Clone(), Settings: copySettings(t.settings)}
}

// Replace swaps in a whole state, as when importing, and returns how many
// records survived aging. The open-set is kept.
func (t *Tracker) Replace(st State) int {
	records := st.Records.Clone()
	t.mu.Lock()
	t.records = records
	t.settings = copySettings(st.Settings)
	ApplyAging(t.records, t.settings.MaxAge)
	kept := len(t.records)
	t.dirty = true
	t.mu.Unlock()

	t.changed("", "")
	return kept
}

// Flush writes pending state now instead of waiting for the debounce.
func (t *Tracker) Flush(ctx context.Context) error {
	if t.saver != nil {
		t.saver.cancel()
	}
	return t.persist(ctx)
}

// Close flushes pending state and stops scheduling saves.
func (t *Tracker) Close(ctx context.Context) error {
	if t.saver != nil {
		t.saver.stop()
	}
	return t.persist(ctx)
}

// changed schedules a save and notifies observers. oldKey/newKey are set
// for renames only.
func (t *Tracker) changed(oldKey, newKey string) {
	if t.saver != nil {
		t.saver.trigger()
	} else if err := t.persist(context.Background()); err != nil {
		t.logger.Warn("save failed", "error", err)
	}

	t.mu.Lock()
	observers := append([]Observer(nil), t.observers...)
	t.mu.Unlock()

	if oldKey != "" {
		for _, o := range observers {
			o.Renamed(oldKey, newKey)
		}
	}
	for _, o := range observers {
		o.Refreshed()
	}
}

// persist writes the latest state if anything changed since the last save.
// Saves are serialized so an older snapshot never overwrites a newer one.
func (t *Tracker) persist(ctx context.Context) error {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	t.dirty = false
	if t.gw == nil {
		t.mu.Unlock()
		return nil
	}
	data, err := EncodeState(State{Records: t.records, Settings: t.settings})
	t.mu.Unlock()
	if err != nil {
		return err
	}

	if err := t.gw.SaveState(ctx, data); err != nil {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func copySettings(s Settings) Settings {
	if s.ExcludeGlobs != nil {
		s.ExcludeGlobs = append([]string(nil), s.ExcludeGlobs...)
	}
	return s
}
