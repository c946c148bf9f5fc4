package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/frecent/internal/engine"
	"github.com/lazypower/frecent/internal/store"
)

const testNow = int64(1_700_000_000_000)

func testServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tracker := engine.NewTracker(db, engine.TrackerOptions{
		Clock: func() int64 { return testNow },
	})
	require.NoError(t, tracker.Load(context.Background()))
	return New(db, tracker, "test-version", nil), db
}

func do(t *testing.T, srv http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	code, body := do(t, srv, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
	assert.Equal(t, true, body["db"])
	assert.Equal(t, store.MemoryPath, body["db_path"])
	assert.NotEmpty(t, body["instance"])
}

func TestVisit(t *testing.T) {
	srv, _ := testServer(t)

	code, body := do(t, srv, "POST", "/api/visits", map[string]any{"key": "a.md"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["counted"])
	rec := body["record"].(map[string]any)
	assert.Equal(t, 1.0, rec["score"])
	assert.Equal(t, float64(testNow), rec["lastAccess"])

	// second activation of an open key is a tab switch
	_, body = do(t, srv, "POST", "/api/visits", map[string]any{"key": "a.md", "now": testNow + 5})
	assert.Equal(t, false, body["counted"])
}

func TestVisitValidation(t *testing.T) {
	srv, _ := testServer(t)

	code, body := do(t, srv, "POST", "/api/visits", map[string]any{"key": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, engine.ErrEmptyKey.Error(), body["error"])

	req := httptest.NewRequest("POST", "/api/visits", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRenameDeleteRemove(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/visits", map[string]any{"key": "a.md"})
	do(t, srv, "POST", "/api/visits", map[string]any{"key": "b.md"})

	code, body := do(t, srv, "POST", "/api/renames", map[string]any{"old_key": "a.md", "new_key": "c.md"})
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body["record"])

	code, _ = do(t, srv, "POST", "/api/renames", map[string]any{"old_key": "a.md"})
	assert.Equal(t, http.StatusBadRequest, code)

	_, body = do(t, srv, "POST", "/api/deletes", map[string]any{"key": "c.md"})
	assert.Equal(t, true, body["deleted"])
	_, body = do(t, srv, "POST", "/api/deletes", map[string]any{"key": "c.md"})
	assert.Equal(t, false, body["deleted"])

	_, body = do(t, srv, "POST", "/api/removals", map[string]any{"key": "b.md"})
	assert.Equal(t, true, body["removed"])

	_, body = do(t, srv, "GET", "/api/total", nil)
	assert.Equal(t, 0.0, body["total"])
	assert.Equal(t, 0.0, body["records"])
}

func TestOpenSetRoutes(t *testing.T) {
	srv, _ := testServer(t)

	_, body := do(t, srv, "PUT", "/api/open", map[string]any{"keys": []string{"b", "a"}})
	assert.Equal(t, []any{"a", "b"}, body["keys"])

	_, body = do(t, srv, "POST", "/api/visits", map[string]any{"key": "a"})
	assert.Equal(t, false, body["counted"])

	do(t, srv, "POST", "/api/close", map[string]any{"key": "a"})
	_, body = do(t, srv, "GET", "/api/open", nil)
	assert.Equal(t, []any{"b"}, body["keys"])

	_, body = do(t, srv, "POST", "/api/visits", map[string]any{"key": "a"})
	assert.Equal(t, true, body["counted"])
}

func TestEntries(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "PUT", "/api/settings", map[string]any{"maxItems": 2, "recordOnEveryVisit": true})
	for _, k := range []string{"a", "b", "b", "c", "c", "c"} {
		do(t, srv, "POST", "/api/visits", map[string]any{"key": k})
	}

	_, body := do(t, srv, "GET", "/api/entries", nil)
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, "c", first["key"])
	assert.Equal(t, 12.0, first["frecency"])

	_, body = do(t, srv, "GET", "/api/entries?all=true", nil)
	assert.Equal(t, 3.0, body["count"])

	_, body = do(t, srv, "GET", "/api/entries?limit=1", nil)
	assert.Equal(t, 1.0, body["count"])

	code, _ := do(t, srv, "GET", "/api/entries?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSettingsRoutes(t *testing.T) {
	srv, _ := testServer(t)

	_, body := do(t, srv, "GET", "/api/settings", nil)
	assert.Equal(t, 1000.0, body["maxAge"])

	_, body = do(t, srv, "PUT", "/api/settings", map[string]any{"excludePathPattern": "^tmp/"})
	assert.Equal(t, "^tmp/", body["excludePathPattern"])
	assert.Equal(t, 1000.0, body["maxAge"], "unspecified fields are kept")

	code, _ := do(t, srv, "PUT", "/api/settings", map[string]any{"maxItems": -1})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestClearAndReconcile(t *testing.T) {
	srv, _ := testServer(t)
	for _, k := range []string{"a", "b", "c"} {
		do(t, srv, "POST", "/api/visits", map[string]any{"key": k})
	}

	_, body := do(t, srv, "POST", "/api/reconcile", map[string]any{"keys": []string{"a"}})
	assert.Equal(t, 2.0, body["removed"])

	do(t, srv, "POST", "/api/clear", nil)
	_, body = do(t, srv, "GET", "/api/total", nil)
	assert.Equal(t, 0.0, body["records"])
}

func TestStateExportImport(t *testing.T) {
	srv, db := testServer(t)
	do(t, srv, "POST", "/api/visits", map[string]any{"key": "a"})

	req := httptest.NewRequest("GET", "/api/state", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	exported := w.Body.String()
	assert.Contains(t, exported, `"a":{"score":1`)

	code, body := do(t, srv, "PUT", "/api/state", json.RawMessage(`{"records":{"x":{"score":4,"lastAccess":1},"y":{"score":2,"lastAccess":2}}}`))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["records"])

	code, _ = do(t, srv, "POST", "/api/flush", nil)
	require.Equal(t, http.StatusOK, code)
	data, err := db.LoadState(context.Background())
	require.NoError(t, err)
	st := engine.DecodeState(data, engine.DefaultSettings())
	assert.Len(t, st.Records, 2)
	assert.Contains(t, st.Records, "x")
}

func TestImportRejectsNonState(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/visits", map[string]any{"key": "a"})

	for _, body := range []string{`"hello"`, `[1,2]`, `{"settings":{"maxAge":5}}`, `{"records":[]}`, `{"records":null}`} {
		code, resp := do(t, srv, "PUT", "/api/state", json.RawMessage(body))
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Contains(t, resp["error"], "invalid state", body)
	}

	_, total := do(t, srv, "GET", "/api/total", nil)
	assert.Equal(t, 1.0, total["records"], "history survives rejected imports")
	_, settings := do(t, srv, "GET", "/api/settings", nil)
	assert.Equal(t, 1000.0, settings["maxAge"])
}

func TestImportCountsRecordsAfterAging(t *testing.T) {
	srv, _ := testServer(t)
	code, body := do(t, srv, "PUT", "/api/state", json.RawMessage(
		`{"records":{"big":{"score":18,"lastAccess":1},"small":{"score":1.5,"lastAccess":1}},"settings":{"maxAge":10}}`))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["records"])
}

func TestEventsStream(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 8)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				events <- name
			}
		}
	}()

	next := func() string {
		select {
		case name := <-events:
			return name
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	require.Equal(t, "hello", next())
	require.Eventually(t, func() bool { return srv.Events().Count() == 1 }, time.Second, 10*time.Millisecond)

	do(t, srv, "POST", "/api/visits", map[string]any{"key": "a"})
	assert.Equal(t, "refresh", next())

	do(t, srv, "POST", "/api/renames", map[string]any{"old_key": "a", "new_key": "b"})
	assert.Equal(t, "rename", next())
	assert.Equal(t, "refresh", next())
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(nil)
	_, ch, cancel := b.Subscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		b.Refreshed()
	}
	assert.Len(t, ch, subscriberBuffer)

	cancel()
	cancel()
	assert.Zero(t, b.Count())
}

func TestBroadcasterCloseAll(t *testing.T) {
	b := NewBroadcaster(nil)
	_, ch, cancel := b.Subscribe()
	b.CloseAll()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, b.Count())
	cancel()
	b.Refreshed()
}
