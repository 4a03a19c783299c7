// Package config is a key/value store for operator-tunable knobs backed by
// the butai SQLite database. Directors change knobs at run time with the
// config command; readers consult them on every use.
package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/bdobrica/butai/internal/butai/store"
)

// ErrNotFound is returned by Get when the key has not been set.
var ErrNotFound = errors.New("config: key not found")

// Store reads and writes knobs. Implementations are safe for concurrent use.
type Store interface {
	// Get returns ErrNotFound when key has not been set.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete is a no-op for an absent key.
	Delete(ctx context.Context, key string) error
	// List returns every set key; an empty map when none are.
	List(ctx context.Context) (map[string]string, error)
}

// knobStore keeps the whole table in memory after the first read. The
// generation knobs are read once per completion and this process is the
// only writer, so writes go to SQLite first and then to the cache.
type knobStore struct {
	db *sql.DB

	mu     sync.RWMutex
	values map[string]string // nil until loaded
}

// New returns a Store on the config table of db.
func New(db *store.Store) Store {
	return &knobStore{db: db.DB()}
}

func (s *knobStore) Get(ctx context.Context, key string) (string, error) {
	values, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	v, ok := values[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *knobStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.load(ctx); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, stamp); err != nil {
		return fmt.Errorf("config: write %s: %w", key, err)
	}
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

func (s *knobStore) Delete(ctx context.Context, key string) error {
	if _, err := s.load(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("config: remove %s: %w", key, err)
	}
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

func (s *knobStore) List(ctx context.Context) (map[string]string, error) {
	values, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(values), nil
}

// load fills the cache on first use and returns it. Callers must hold no
// lock.
func (s *knobStore) load(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	values := s.values
	s.mu.RUnlock()
	if values != nil {
		return values, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values != nil {
		return s.values, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("config: read table: %w", err)
	}
	defer rows.Close()
	loaded := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("config: read row: %w", err)
		}
		loaded[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: read table: %w", err)
	}
	s.values = loaded
	return loaded, nil
}
