// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jllopis/deskpilot/pkg/storage/sqlitedb"
)

// SQLiteSource reads agents from the agents table.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLiteSource ensures the schema and returns the source.
func NewSQLiteSource(ctx context.Context, db *sql.DB) (*SQLiteSource, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	s := &SQLiteSource{db: db}
	if err := sqlitedb.Exec(ctx, db,
		`CREATE TABLE IF NOT EXISTS agents (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			workspace_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			allow_auto_reply INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_workspace ON agents (workspace_id, enabled, allow_auto_reply)`,
	); err != nil {
		return nil, err
	}
	return s, nil
}

// Put inserts or replaces an agent.
func (s *SQLiteSource) Put(ctx context.Context, d Descriptor) error {
	if d.ID == "" || d.WorkspaceID == "" {
		return fmt.Errorf("agent needs id and workspace id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, workspace_id, title, description, enabled, allow_auto_reply)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			title = excluded.title,
			description = excluded.description,
			enabled = excluded.enabled,
			allow_auto_reply = excluded.allow_auto_reply
	`, d.ID, d.WorkspaceID, d.Title, d.Description, d.Enabled, d.AllowAutoReply)
	return err
}

// ListAgents implements Source. Only eligible agents are selected.
func (s *SQLiteSource) ListAgents(ctx context.Context, workspaceID string) ([]Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, title, description, enabled, allow_auto_reply
		FROM agents
		WHERE workspace_id = ? AND enabled = 1 AND allow_auto_reply = 1
		ORDER BY seq ASC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Descriptor
	for rows.Next() {
		var d Descriptor
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.Title, &d.Description, &d.Enabled, &d.AllowAutoReply); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
