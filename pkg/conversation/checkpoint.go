// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/storage/sqlitedb"
)

// CheckpointStore persists State between turns, keyed by thread id.
type CheckpointStore interface {
	// Load returns (nil, nil) when the thread has no checkpoint.
	Load(ctx context.Context, threadID string) (*State, error)
	Save(ctx context.Context, threadID string, state *State) error
}

func encode(threadID string, s *State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errors.New(errors.CodeCheckpoint, "encode checkpoint", err).WithContext("thread_id", threadID)
	}
	return data, nil
}

func decode(threadID string, data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.New(errors.CodeCheckpoint, "decode checkpoint", err).WithContext("thread_id", threadID)
	}
	return &s, nil
}

// MemoryCheckpoints keeps JSON snapshots in a bounded LRU. Evicted threads
// start over with a fresh state on their next message.
type MemoryCheckpoints struct {
	cache *lru.Cache[string, []byte]
}

// NewMemoryCheckpoints holds at most maxThreads snapshots.
func NewMemoryCheckpoints(maxThreads int) (*MemoryCheckpoints, error) {
	if maxThreads <= 0 {
		maxThreads = 10000
	}
	c, err := lru.New[string, []byte](maxThreads)
	if err != nil {
		return nil, err
	}
	return &MemoryCheckpoints{cache: c}, nil
}

// Load implements CheckpointStore.
func (m *MemoryCheckpoints) Load(_ context.Context, threadID string) (*State, error) {
	data, ok := m.cache.Get(threadID)
	if !ok {
		return nil, nil
	}
	return decode(threadID, data)
}

// Save implements CheckpointStore.
func (m *MemoryCheckpoints) Save(_ context.Context, threadID string, s *State) error {
	data, err := encode(threadID, s)
	if err != nil {
		return err
	}
	m.cache.Add(threadID, data)
	return nil
}

// Len returns the number of stored threads.
func (m *MemoryCheckpoints) Len() int { return m.cache.Len() }

// SQLiteCheckpoints stores one row per thread.
type SQLiteCheckpoints struct {
	db *sql.DB
}

// NewSQLiteCheckpoints ensures the schema and returns the store.
func NewSQLiteCheckpoints(ctx context.Context, db *sql.DB) (*SQLiteCheckpoints, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := sqlitedb.Exec(ctx, db,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			state BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_workspace ON checkpoints (workspace_id)`,
	); err != nil {
		return nil, err
	}
	return &SQLiteCheckpoints{db: db}, nil
}

// Load implements CheckpointStore.
func (c *SQLiteCheckpoints) Load(ctx context.Context, threadID string) (*State, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT state FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.CodeCheckpoint, "load checkpoint", err).
			WithContext("thread_id", threadID).
			WithRecoverable(true)
	}
	return decode(threadID, data)
}

// Save implements CheckpointStore. Each save bumps the row version.
func (c *SQLiteCheckpoints) Save(ctx context.Context, threadID string, s *State) error {
	data, err := encode(threadID, s)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, workspace_id, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at,
			version = checkpoints.version + 1
	`, threadID, s.Params.WorkspaceID, data, time.Now().UnixNano())
	if err != nil {
		return errors.New(errors.CodeCheckpoint, "save checkpoint", err).
			WithContext("thread_id", threadID).
			WithRecoverable(true)
	}
	return nil
}

// Version returns how many times threadID has been saved, 0 if never.
func (c *SQLiteCheckpoints) Version(ctx context.Context, threadID string) (int, error) {
	var v int
	err := c.db.QueryRowContext(ctx, `SELECT version FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&v)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// FileCheckpoints writes one JSON file per thread under dir.
type FileCheckpoints struct {
	mu  sync.Mutex
	dir string
}

// NewFileCheckpoints creates dir if needed.
func NewFileCheckpoints(dir string) (*FileCheckpoints, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileCheckpoints{dir: dir}, nil
}

// path escapes threadID so distinct ids never share a file and none leaves dir.
func (f *FileCheckpoints) path(threadID string) string {
	return filepath.Join(f.dir, url.PathEscape(threadID)+".json")
}

// Load implements CheckpointStore.
func (f *FileCheckpoints) Load(_ context.Context, threadID string) (*State, error) {
	f.mu.Lock()
	data, err := os.ReadFile(f.path(threadID))
	f.mu.Unlock()
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.CodeCheckpoint, "load checkpoint", err).WithContext("thread_id", threadID)
	}
	return decode(threadID, data)
}

// Save implements CheckpointStore. The file is replaced atomically.
func (f *FileCheckpoints) Save(_ context.Context, threadID string, s *State) error {
	data, err := encode(threadID, s)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.path(threadID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.New(errors.CodeCheckpoint, "save checkpoint", err).WithContext("thread_id", threadID)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.New(errors.CodeCheckpoint, "save checkpoint", err).WithContext("thread_id", threadID)
	}
	return nil
}
