package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/lazypower/frecent/internal/client"
	"github.com/lazypower/frecent/internal/config"
	"github.com/lazypower/frecent/internal/engine"
	"github.com/lazypower/frecent/internal/events"
	"github.com/lazypower/frecent/internal/store"
)

// backend is what commands act on: a running server, or the database
// directly when no server is up.
type backend interface {
	Visit(key string, now int64) (client.VisitResult, error)
	Close(key string) error
	Rename(oldKey, newKey string) error
	Delete(key string) (bool, error)
	Remove(key string) (bool, error)
	Entries(limit int, all bool) ([]engine.Entry, error)
	Total() (client.Total, error)
	Clear() error
	Reconcile(keys []string) (int, error)
	Settings() (engine.Settings, error)
	UpdateSettings(s engine.Settings) (engine.Settings, error)
	Export() ([]byte, error)
	Import(data []byte) (int, error)
	Ingest(evs []events.Event) (events.Result, error)
	release() error
}

// openDB opens the configured database, or the default one.
func openDB(cfg config.Config) (*store.DB, error) {
	path := cfg.Database.Path
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}

func (a *app) backend() (backend, error) {
	if !a.local {
		c := client.FromEnv()
		if c.Healthy() {
			a.logger.Debug("using server", "url", c.URL())
			return &remote{Client: c}, nil
		}
	}

	db, err := openDB(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defaults := a.cfg.Settings()
	tracker := engine.NewTracker(db, engine.TrackerOptions{
		Logger:   a.logger,
		Defaults: &defaults,
	})
	if err := tracker.Load(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	a.logger.Debug("using database", "path", db.Path)
	return &local{db: db, tracker: tracker}, nil
}

// remote forwards to a running server.
type remote struct {
	*client.Client
}

func (r *remote) Ingest(evs []events.Event) (events.Result, error) {
	sink := &remoteSink{c: r.Client}
	res := events.Apply(sink, evs)
	return res, sink.err
}

func (r *remote) release() error { return nil }

// remoteSink adapts the client to events.Sink, keeping the first error.
type remoteSink struct {
	c   *client.Client
	err error
}

func (s *remoteSink) keep(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Now returns 0 so the server stamps the visit with its own clock.
func (s *remoteSink) Now() int64 { return 0 }

func (s *remoteSink) RecordVisit(key string, now int64) bool {
	res, err := s.c.Visit(key, now)
	s.keep(err)
	return res.Counted
}

func (s *remoteSink) CloseKey(key string) { s.keep(s.c.Close(key)) }

func (s *remoteSink) HandleRename(oldKey, newKey string) { s.keep(s.c.Rename(oldKey, newKey)) }

func (s *remoteSink) HandleDelete(key string) bool {
	ok, err := s.c.Delete(key)
	s.keep(err)
	return ok
}

func (s *remoteSink) RemoveEntry(key string) bool {
	ok, err := s.c.Remove(key)
	s.keep(err)
	return ok
}

func (s *remoteSink) SetOpen(keys []string) { s.keep(s.c.SetOpen(keys)) }

// local runs the tracker in-process against the database. The open-set
// starts empty, so every visit counts.
type local struct {
	db      *store.DB
	tracker *engine.Tracker
}

func (l *local) Visit(key string, now int64) (client.VisitResult, error) {
	if key == "" {
		return client.VisitResult{}, engine.ErrEmptyKey
	}
	if now <= 0 {
		now = l.tracker.Now()
	}
	res := client.VisitResult{Key: key, Counted: l.tracker.RecordVisit(key, now)}
	if rec, ok := l.tracker.Record(key); ok {
		res.Record = &rec
	}
	return res, nil
}

func (l *local) Close(key string) error {
	l.tracker.CloseKey(key)
	return nil
}

func (l *local) Rename(oldKey, newKey string) error {
	if oldKey == "" || newKey == "" {
		return engine.ErrEmptyKey
	}
	l.tracker.HandleRename(oldKey, newKey)
	return nil
}

func (l *local) Delete(key string) (bool, error) {
	return l.tracker.HandleDelete(key), nil
}

func (l *local) Remove(key string) (bool, error) {
	return l.tracker.RemoveEntry(key), nil
}

func (l *local) Entries(limit int, all bool) ([]engine.Entry, error) {
	if all {
		return l.tracker.RankedAll(), nil
	}
	return l.tracker.Ranked(limit), nil
}

func (l *local) Total() (client.Total, error) {
	return client.Total{
		Total:   l.tracker.TotalScore(),
		Records: l.tracker.Len(),
		MaxAge:  l.tracker.Settings().MaxAge,
	}, nil
}

func (l *local) Clear() error {
	l.tracker.ClearAll()
	return nil
}

func (l *local) Reconcile(keys []string) (int, error) {
	return l.tracker.Reconcile(keys), nil
}

func (l *local) Settings() (engine.Settings, error) {
	return l.tracker.Settings(), nil
}

func (l *local) UpdateSettings(s engine.Settings) (engine.Settings, error) {
	l.tracker.UpdateSettings(s)
	return l.tracker.Settings(), nil
}

func (l *local) Export() ([]byte, error) {
	return engine.EncodeState(l.tracker.Snapshot())
}

func (l *local) Import(data []byte) (int, error) {
	st, err := engine.ParseState(data, l.tracker.Settings())
	if err != nil {
		return 0, err
	}
	return l.tracker.Replace(st), nil
}

func (l *local) Ingest(evs []events.Event) (events.Result, error) {
	return events.Apply(l.tracker, evs), nil
}

func (l *local) release() error {
	return errors.Join(l.tracker.Close(context.Background()), l.db.Close())
}

// withBackend opens a backend, runs fn and releases it.
func (a *app) withBackend(fn func(b backend) error) (err error) {
	b, err := a.backend()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := b.release(); err == nil {
			err = rerr
		}
	}()
	return fn(b)
}
