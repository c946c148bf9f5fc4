package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/frecent/internal/engine"
	"github.com/lazypower/frecent/internal/server"
	"github.com/lazypower/frecent/internal/store"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tracker := engine.NewTracker(db, engine.TrackerOptions{})
	require.NoError(t, tracker.Load(context.Background()))

	ts := httptest.NewServer(server.New(db, tracker, "test", nil))
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvURL, "")
	assert.Equal(t, DefaultURL, FromEnv().URL())

	t.Setenv(EnvURL, "http://example.test:1")
	assert.Equal(t, "http://example.test:1", FromEnv().URL())
}

func TestHealthyFalseWhenDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	assert.False(t, New(url).Healthy())
}

func TestRoundTrip(t *testing.T) {
	c := testClient(t)
	require.True(t, c.Healthy())

	res, err := c.Visit("a.md", 0)
	require.NoError(t, err)
	assert.True(t, res.Counted)
	require.NotNil(t, res.Record)
	assert.Equal(t, 1.0, res.Record.Score)

	res, err = c.Visit("a.md", 0)
	require.NoError(t, err)
	assert.False(t, res.Counted, "tab switch")

	require.NoError(t, c.Close("a.md"))
	res, err = c.Visit("a.md", 0)
	require.NoError(t, err)
	assert.True(t, res.Counted)
	assert.Equal(t, 2.0, res.Record.Score)

	require.NoError(t, c.Rename("a.md", "b.md"))
	entries, err := c.Entries(0, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.md", entries[0].Key)

	total, err := c.Total()
	require.NoError(t, err)
	assert.Equal(t, 2.0, total.Total)
	assert.Equal(t, 1, total.Records)

	removed, err := c.Remove("b.md")
	require.NoError(t, err)
	assert.True(t, removed)

	deleted, err := c.Delete("b.md")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSettingsAndState(t *testing.T) {
	c := testClient(t)

	s, err := c.Settings()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultSettings(), s)

	s.MaxItems = 3
	s.ExcludeGlobs = []string{"tmp/*"}
	got, err := c.UpdateSettings(s)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	n, err := c.Import([]byte(`{"records":{"x":{"score":3,"lastAccess":1},"tmp/y":{"score":1,"lastAccess":1}}}`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := c.Entries(0, false)
	require.NoError(t, err)
	require.Len(t, entries, 1, "tmp/y is excluded")

	data, err := c.Export()
	require.NoError(t, err)
	st := engine.DecodeState(data, engine.DefaultSettings())
	assert.Len(t, st.Records, 2)
	assert.Equal(t, 3, st.Settings.MaxItems)

	require.NoError(t, c.Flush())

	gone, err := c.Reconcile([]string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 1, gone)

	require.NoError(t, c.SetOpen(nil))
	require.NoError(t, c.Clear())
	total, err := c.Total()
	require.NoError(t, err)
	assert.Zero(t, total.Records)
}

func TestErrorStatus(t *testing.T) {
	c := testClient(t)
	_, err := c.Visit("", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
