// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/storage/sqlitedb"
)

func TestParseTime(t *testing.T) {
	for _, in := range []string{"2026-03-02T10:00:00Z", "2026-03-02T10:00:00.5+01:00", "2026-03-02T10:00Z", "2026-03-02T10:00"} {
		if _, err := ParseTime(in); err != nil {
			t.Errorf("ParseTime(%q): %v", in, err)
		}
	}
	_, err := ParseTime("tomorrow at ten")
	if !errors.HasCode(err, errors.CodeCalendar) {
		t.Fatalf("err = %v, want CodeCalendar", err)
	}
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent("Demo", "Onboarding", "2026-03-02T10:00:00Z", "2026-03-02T10:30:00Z", "30m")
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if ev.End.Sub(ev.Start) != 30*time.Minute {
		t.Fatalf("span = %v", ev.End.Sub(ev.Start))
	}
	if _, err := NewEvent("Demo", "x", "2026-03-02T10:30:00Z", "2026-03-02T10:00:00Z", "30m"); err == nil {
		t.Fatal("expected end-before-start error")
	}
}

func TestSQLiteCalendar(t *testing.T) {
	ctx := context.Background()
	db, err := sqlitedb.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	cal, err := NewSQLiteCalendar(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLiteCalendar: %v", err)
	}
	ev, _ := NewEvent("Demo", "Onboarding", "2026-03-02T10:00:00Z", "2026-03-02T10:30:00Z", "30m")
	if err := cal.CreateEvent(ctx, ev, "ws-1"); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	got, err := cal.List(ctx, "ws-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Demo" || !got[0].Start.Equal(ev.Start) {
		t.Fatalf("List = %+v", got)
	}
	other, _ := cal.List(ctx, "ws-2")
	if len(other) != 0 {
		t.Fatalf("events leaked across workspaces: %+v", other)
	}
}

func TestLogCreator(t *testing.T) {
	if err := (LogCreator{}).CreateEvent(context.Background(), Event{Title: "x"}, "ws"); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
}
