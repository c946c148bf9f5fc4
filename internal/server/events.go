package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is how many events a slow subscriber may lag behind
// before further events are dropped for it.
const subscriberBuffer = 16

// Event is one server-sent event.
type Event struct {
	Name string
	Data []byte
}

// Broadcaster fans tracker notifications out to /api/events subscribers.
// It implements engine.Observer.
type Broadcaster struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]chan Event
}

// NewBroadcaster returns a broadcaster with no subscribers.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{logger: logger, subs: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release it; the channel is closed afterwards.
func (b *Broadcaster) Subscribe() (string, <-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return id, ch, cancel
}

// CloseAll disconnects every subscriber, ending their event streams.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Refreshed publishes a refresh event.
func (b *Broadcaster) Refreshed() {
	b.publish(Event{Name: "refresh", Data: []byte("{}")})
}

// Renamed publishes a rename event carrying both keys.
func (b *Broadcaster) Renamed(oldKey, newKey string) {
	data, _ := json.Marshal(map[string]string{"old_key": oldKey, "new_key": newKey})
	b.publish(Event{Name: "rename", Data: data})
}

func (b *Broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber", "subscriber", id, "event", ev.Name)
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	id, ch, cancel := s.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	hello, _ := json.Marshal(map[string]string{"subscriber": id, "instance": s.instance})
	if err := writeEvent(w, rc, Event{Name: "hello", Data: hello}); err != nil {
		return
	}
	s.logger.Debug("event subscriber connected", "subscriber", id)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("event subscriber gone", "subscriber", id)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, rc, ev); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, ev Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data); err != nil {
		return err
	}
	return rc.Flush()
}
