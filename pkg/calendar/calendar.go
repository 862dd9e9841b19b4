// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package calendar is the side-effect port used by the scheduling agent.
package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/storage/sqlitedb"
)

// Event is a meeting ready to be booked.
type Event struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Duration    string
}

// Creator books events. Implementations are called at most once per draft
// and are not retried.
type Creator interface {
	CreateEvent(ctx context.Context, ev Event, workspaceID string) error
}

// ParseTime accepts RFC 3339 timestamps, with or without seconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04Z07:00", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New(errors.CodeCalendar, "unparsable event time", nil).WithContext("value", s)
}

// NewEvent builds an Event from draft strings. End before start is rejected.
func NewEvent(title, description, start, end, duration string) (Event, error) {
	st, err := ParseTime(start)
	if err != nil {
		return Event{}, err
	}
	et, err := ParseTime(end)
	if err != nil {
		return Event{}, err
	}
	if et.Before(st) {
		return Event{}, errors.New(errors.CodeCalendar, "event ends before it starts", nil).
			WithContext("start", start).
			WithContext("end", end)
	}
	return Event{Title: title, Description: description, Start: st, End: et, Duration: duration}, nil
}

// LogCreator only logs the event. It is the default when no calendar is configured.
type LogCreator struct {
	Log *slog.Logger
}

// CreateEvent implements Creator.
func (l LogCreator) CreateEvent(ctx context.Context, ev Event, workspaceID string) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "calendar.event.created",
		slog.String("workspace_id", workspaceID),
		slog.String("title", ev.Title),
		slog.Time("start", ev.Start),
		slog.Time("end", ev.End),
	)
	return nil
}

// SQLiteCalendar stores booked events in a calendar_events table.
type SQLiteCalendar struct {
	db *sql.DB
}

// NewSQLiteCalendar ensures the schema.
func NewSQLiteCalendar(ctx context.Context, db *sql.DB) (*SQLiteCalendar, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := sqlitedb.Exec(ctx, db,
		`CREATE TABLE IF NOT EXISTS calendar_events (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			start_at TEXT NOT NULL,
			end_at TEXT NOT NULL,
			duration TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_events_workspace ON calendar_events (workspace_id, start_at)`,
	); err != nil {
		return nil, err
	}
	return &SQLiteCalendar{db: db}, nil
}

// CreateEvent implements Creator.
func (c *SQLiteCalendar) CreateEvent(ctx context.Context, ev Event, workspaceID string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO calendar_events (id, workspace_id, title, description, start_at, end_at, duration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), workspaceID, ev.Title, ev.Description,
		ev.Start.UTC().Format(time.RFC3339), ev.End.UTC().Format(time.RFC3339), ev.Duration, time.Now().UnixNano())
	if err != nil {
		return errors.New(errors.CodeCalendar, "insert calendar event", err).WithContext("workspace_id", workspaceID)
	}
	return nil
}

// List returns a workspace's events ordered by start time.
func (c *SQLiteCalendar) List(ctx context.Context, workspaceID string) ([]Event, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT title, description, start_at, end_at, duration
		FROM calendar_events WHERE workspace_id = ? ORDER BY start_at
	`, workspaceID)
	if err != nil {
		return nil, errors.New(errors.CodeCalendar, "list calendar events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var start, end string
		if err := rows.Scan(&ev.Title, &ev.Description, &start, &end, &ev.Duration); err != nil {
			return nil, errors.New(errors.CodeCalendar, "scan calendar event", err)
		}
		ev.Start, _ = time.Parse(time.RFC3339, start)
		ev.End, _ = time.Parse(time.RFC3339, end)
		out = append(out, ev)
	}
	return out, rows.Err()
}
