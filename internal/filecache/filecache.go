// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filecache is the optional per-application cache of file payloads
// used to absorb repeated reads of persistent resources. The cache is
// feature-gated: when disabled the library never touches this package.
//
// Payloads are kept in a per-application SQLite database under the user
// cache directory, using WAL mode so concurrent readers inside one process
// do not serialize on the writer.
package filecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotCached is returned by Get when the key has no cached payload.
var ErrNotCached = errors.New("payload not cached")

// ErrClosed is returned for operations on a deinitialized cache.
var ErrClosed = errors.New("file cache is closed")

// Cache is a per-application file payload cache.
type Cache struct {
	db  *sql.DB
	app string
}

// Init opens (creating if necessary) the cache database for appName under
// baseDir. The database lives at <baseDir>/<appName>/filecache.db.
func Init(baseDir, appName string) (*Cache, error) {
	if appName == "" {
		return nil, fmt.Errorf("application name is required")
	}

	dir := filepath.Join(baseDir, appName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	path := filepath.Join(dir, "filecache.db")
	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS payloads (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &Cache{db: db, app: appName}, nil
}

// Put stores or replaces the payload for key.
func (c *Cache) Put(ctx context.Context, key string, data []byte) error {
	if c.db == nil {
		return ErrClosed
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO payloads (key, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to cache payload for %s: %w", key, err)
	}
	return nil
}

// Get returns the cached payload for key, or ErrNotCached.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.db == nil {
		return nil, ErrClosed
	}
	var data []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT data FROM payloads WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached payload for %s: %w", key, err)
	}
	return data, nil
}

// Evict removes the payload for key. Evicting an absent key is a no-op.
func (c *Cache) Evict(ctx context.Context, key string) error {
	if c.db == nil {
		return ErrClosed
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM payloads WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to evict cached payload for %s: %w", key, err)
	}
	return nil
}

// Deinit closes the cache database. The cache is unusable afterwards.
func (c *Cache) Deinit() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
