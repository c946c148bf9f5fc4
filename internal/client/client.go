package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/lazypower/frecent/internal/engine"
)

const (
	// EnvURL selects the server the CLI talks to.
	EnvURL = "FRECENT_URL"

	DefaultURL  = "http://127.0.0.1:37778"
	httpTimeout = 5 * time.Second
)

// Client talks to a running frecent server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL.
func New(serverURL string) *Client {
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: serverURL,
	}
}

// FromEnv creates a client for $FRECENT_URL, falling back to DefaultURL.
func FromEnv() *Client {
	u := os.Getenv(EnvURL)
	if u == "" {
		u = DefaultURL
	}
	return New(u)
}

// URL returns the server base URL.
func (c *Client) URL() string {
	return c.serverURL
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Get sends a GET request and returns the response body.
func (c *Client) Get(path string) ([]byte, error) {
	return c.do(http.MethodGet, path, nil)
}

// Post sends a POST request with a JSON body and returns the response body.
func (c *Client) Post(path string, body []byte) ([]byte, error) {
	return c.do(http.MethodPost, path, body)
}

// Put sends a PUT request with a JSON body and returns the response body.
func (c *Client) Put(path string, body []byte) ([]byte, error) {
	return c.do(http.MethodPut, path, body)
}

func (c *Client) do(method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.serverURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

// call marshals in, sends it and unmarshals the reply into out (if non-nil).
func (c *Client) call(method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
	}
	data, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// VisitResult is the server's answer to a visit.
type VisitResult struct {
	Key     string         `json:"key"`
	Counted bool           `json:"counted"`
	Record  *engine.Record `json:"record,omitempty"`
}

// Visit records an activation of key. now <= 0 uses the server clock.
func (c *Client) Visit(key string, now int64) (VisitResult, error) {
	req := map[string]any{"key": key}
	if now > 0 {
		req["now"] = now
	}
	var res VisitResult
	err := c.call(http.MethodPost, "/api/visits", req, &res)
	return res, err
}

// Rename moves oldKey's record to newKey.
func (c *Client) Rename(oldKey, newKey string) error {
	return c.call(http.MethodPost, "/api/renames", map[string]string{"old_key": oldKey, "new_key": newKey}, nil)
}

// Delete reports that the item at key was deleted.
func (c *Client) Delete(key string) (bool, error) {
	var res struct {
		Deleted bool `json:"deleted"`
	}
	err := c.call(http.MethodPost, "/api/deletes", map[string]string{"key": key}, &res)
	return res.Deleted, err
}

// Remove drops key from the tracked set.
func (c *Client) Remove(key string) (bool, error) {
	var res struct {
		Removed bool `json:"removed"`
	}
	err := c.call(http.MethodPost, "/api/removals", map[string]string{"key": key}, &res)
	return res.Removed, err
}

// Close removes key from the open-set.
func (c *Client) Close(key string) error {
	return c.call(http.MethodPost, "/api/close", map[string]string{"key": key}, nil)
}

// SetOpen replaces the server's open-set.
func (c *Client) SetOpen(keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	return c.call(http.MethodPut, "/api/open", map[string][]string{"keys": keys}, nil)
}

// Entries returns the ranking. all ignores limit and returns every entry.
func (c *Client) Entries(limit int, all bool) ([]engine.Entry, error) {
	q := url.Values{}
	if all {
		q.Set("all", "true")
	} else if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/entries"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var res struct {
		Entries []engine.Entry `json:"entries"`
	}
	err := c.call(http.MethodGet, path, nil, &res)
	return res.Entries, err
}

// Total is the aging diagnostic.
type Total struct {
	Total   float64 `json:"total"`
	Records int     `json:"records"`
	MaxAge  float64 `json:"max_age"`
}

// Total returns the sum of all scores.
func (c *Client) Total() (Total, error) {
	var res Total
	err := c.call(http.MethodGet, "/api/total", nil, &res)
	return res, err
}

// Clear empties the record set.
func (c *Client) Clear() error {
	return c.call(http.MethodPost, "/api/clear", nil, nil)
}

// Reconcile drops records whose key is not in keys.
func (c *Client) Reconcile(keys []string) (int, error) {
	if keys == nil {
		keys = []string{}
	}
	var res struct {
		Removed int `json:"removed"`
	}
	err := c.call(http.MethodPost, "/api/reconcile", map[string][]string{"keys": keys}, &res)
	return res.Removed, err
}

// Settings fetches the engine settings.
func (c *Client) Settings() (engine.Settings, error) {
	var s engine.Settings
	err := c.call(http.MethodGet, "/api/settings", nil, &s)
	return s, err
}

// UpdateSettings replaces the engine settings and returns the result.
func (c *Client) UpdateSettings(s engine.Settings) (engine.Settings, error) {
	var out engine.Settings
	err := c.call(http.MethodPut, "/api/settings", s, &out)
	return out, err
}

// Export returns the encoded state blob.
func (c *Client) Export() ([]byte, error) {
	return c.Get("/api/state")
}

// Import replaces the server state with an encoded blob.
func (c *Client) Import(data []byte) (int, error) {
	body, err := c.Put("/api/state", data)
	if err != nil {
		return 0, err
	}
	var res struct {
		Records int `json:"records"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode /api/state: %w", err)
	}
	return res.Records, nil
}

// Flush asks the server to write pending state now.
func (c *Client) Flush() error {
	return c.call(http.MethodPost, "/api/flush", nil, nil)
}
