package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StateKey is the kv key holding the tracker's state blob.
const StateKey = "state"

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("not found")

// Get returns the value stored at key.
func (db *DB) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Put stores value at key, replacing any previous value.
func (db *DB) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// UpdatedAt returns when key was last written, in unix millis.
func (db *DB) UpdatedAt(ctx context.Context, key string) (int64, error) {
	var ts int64
	err := db.QueryRowContext(ctx, "SELECT updated_at FROM kv WHERE key = ?", key).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("updated_at %q: %w", key, err)
	}
	return ts, nil
}

// LoadState returns the tracker blob, or nil when nothing was saved yet.
func (db *DB) LoadState(ctx context.Context) ([]byte, error) {
	data, err := db.Get(ctx, StateKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// SaveState stores the tracker blob.
func (db *DB) SaveState(ctx context.Context, data []byte) error {
	return db.Put(ctx, StateKey, data)
}
