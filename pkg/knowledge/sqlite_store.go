// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jllopis/deskpilot/pkg/storage/sqlitedb"
)

// SQLiteStore persists entries with their vectors encoded as JSON. Ranking
// loads one agent's entries and scores them in process.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore creates the store and ensures its schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB, table string) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	table, err := sqlitedb.TableName(table, "knowledge_entries")
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db, table: table}
	if err := sqlitedb.Exec(ctx, db,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			agent_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_agent ON %s (agent_id, seq)`, table, table),
	); err != nil {
		return nil, err
	}
	return s, nil
}

// Upsert implements Store. Replaced entries keep their original position.
func (s *SQLiteStore) Upsert(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, agent_id, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			content = excluded.content,
			embedding = excluded.embedding
	`, s.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.AgentID == "" {
			return fmt.Errorf("knowledge entry %q has no agent id", e.ID)
		}
		e = prepare(e)
		vec, err := json.Marshal(e.Embedding)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.AgentID, e.Content, string(vec), e.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("upsert knowledge %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// TopK implements Store.
func (s *SQLiteStore) TopK(ctx context.Context, agentID string, embedding []float32, k int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, agent_id, content, embedding, created_at
		FROM %s
		WHERE agent_id = ?
		ORDER BY seq ASC
	`, s.table), agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			vec     string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Content, &vec, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(vec), &e.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", e.ID, err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return Rank(entries, embedding, k), nil
}
