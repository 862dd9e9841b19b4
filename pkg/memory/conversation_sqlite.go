// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jllopis/deskpilot/pkg/storage/sqlitedb"
)

// SQLiteConversation implements ConversationMemory on SQLite. Rows are
// ordered by an autoincrement sequence so arrival order survives equal
// timestamps.
type SQLiteConversation struct {
	db     *sql.DB
	table  string
	config ConversationConfig
}

// SQLiteConfig configures the SQLite conversation store.
type SQLiteConfig struct {
	// DB is the database connection. Required.
	DB *sql.DB
	// TableName is the table to use. Default: "thread_messages".
	TableName string
	// ConversationConfig for truncation.
	ConversationConfig ConversationConfig
}

// NewSQLiteConversation creates the store and ensures its schema.
func NewSQLiteConversation(ctx context.Context, cfg SQLiteConfig) (*SQLiteConversation, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	table, err := sqlitedb.TableName(cfg.TableName, "thread_messages")
	if err != nil {
		return nil, err
	}
	s := &SQLiteConversation{db: cfg.DB, table: table, config: cfg.ConversationConfig}
	if err := s.initialize(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteConversation) initialize(ctx context.Context) error {
	return sqlitedb.Exec(ctx, s.db,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			agent_title TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_thread ON %s (thread_id, seq)`, s.table, s.table),
	)
}

// AppendMessage adds a message to the thread.
func (s *SQLiteConversation) AppendMessage(ctx context.Context, threadID string, msg ConversationMessage) error {
	msg = normalize(threadID, msg)
	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, role, content, agent_id, agent_title, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.table)
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		threadID,
		msg.Role,
		msg.Content,
		msg.AgentID,
		msg.AgentTitle,
		msg.CreatedAt.UnixNano(),
	)
	return err
}

// GetMessages retrieves all messages for a thread.
func (s *SQLiteConversation) GetMessages(ctx context.Context, threadID string) ([]ConversationMessage, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, role, content, agent_id, agent_title, created_at
		FROM %s
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, s.table)

	messages, err := s.queryMessages(ctx, query, threadID)
	if err != nil {
		return nil, err
	}
	return s.config.truncate(ctx, messages)
}

// GetRecentMessages retrieves the last N messages for a thread.
func (s *SQLiteConversation) GetRecentMessages(ctx context.Context, threadID string, limit int) ([]ConversationMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, thread_id, role, content, agent_id, agent_title, created_at
		FROM (
			SELECT seq, id, thread_id, role, content, agent_id, agent_title, created_at
			FROM %s
			WHERE thread_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) sub
		ORDER BY seq ASC
	`, s.table)
	return s.queryMessages(ctx, query, threadID, limit)
}

// Clear removes all messages for a thread.
func (s *SQLiteConversation) Clear(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE thread_id = ?`, s.table), threadID)
	return err
}

// ListThreads returns the ids of all threads with history.
func (s *SQLiteConversation) ListThreads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT thread_id FROM %s ORDER BY thread_id`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		threads = append(threads, id)
	}
	return threads, rows.Err()
}

func (s *SQLiteConversation) queryMessages(ctx context.Context, query string, args ...any) ([]ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var (
			msg     ConversationMessage
			created int64
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&msg.Role,
			&msg.Content,
			&msg.AgentID,
			&msg.AgentTitle,
			&created,
		); err != nil {
			return nil, err
		}
		msg.CreatedAt = time.Unix(0, created).UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
