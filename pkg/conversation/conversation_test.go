// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/memory"
	"github.com/jllopis/deskpilot/pkg/registry"
	"github.com/jllopis/deskpilot/pkg/storage/sqlitedb"
)

func TestDraftReady(t *testing.T) {
	d := Draft{Title: "Demo", Description: "Product demo", StartTime: "2026-03-02T10:00:00Z", EndTime: "2026-03-02T10:30:00Z"}
	if d.Ready() {
		t.Fatal("draft without duration should not be ready")
	}
	if got := d.Missing(); len(got) != 1 || got[0] != "duration" {
		t.Fatalf("Missing = %v", got)
	}
	d.Duration = "30m"
	if !d.Ready() {
		t.Fatal("complete draft should be ready")
	}
	d.Title = ""
	if d.Ready() {
		t.Fatal("empty title should not count")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(s *State)
		ok     bool
	}{
		{"fresh", func(*State) {}, true},
		{"missing workspace", func(s *State) { s.Params.WorkspaceID = "" }, false},
		{"cursor at end", func(s *State) {
			s.Params.PendingAgentIDs = []string{"greeter"}
			s.Params.SelectedAgentIDIndex = 1
		}, true},
		{"cursor past end", func(s *State) { s.Params.SelectedAgentIDIndex = 1 }, false},
		{"negative cursor", func(s *State) { s.Params.SelectedAgentIDIndex = -1 }, false},
		{"unknown status", func(s *State) { s.Params.SchedulingStatus = "booked" }, false},
		{"agents without loaded flag", func(s *State) { s.Params.AgentIDs = []string{"a"} }, false},
		{"bad role", func(s *State) { s.Messages = append(s.Messages, Message{Role: "system"}) }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New("ws", "th")
			tc.mutate(s)
			err := s.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				if !errors.HasCode(err, errors.CodeState) {
					t.Fatalf("err = %v, want CodeState", err)
				}
				if errors.IsRecoverable(err) {
					t.Fatal("state errors must not be recoverable")
				}
			}
		})
	}
	var nilState *State
	if err := nilState.Validate(); err == nil {
		t.Fatal("nil state should fail")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := New("ws", "th")
	s.Append(AgentMessage("hi", "greeter", "Greeter"))
	s.Params.AgentsLoaded = true
	s.Params.Agents = []registry.Descriptor{{ID: "kb", Title: "Billing"}}
	s.Params.AgentIDs = []string{"kb"}
	s.Params.PendingAgentIDs = []string{"greeter"}

	c := s.Clone()
	c.Messages[0].Metadata.AgentTitle = "changed"
	c.Params.Agents[0].Title = "changed"
	c.Params.PendingAgentIDs[0] = "changed"
	c.Append(HumanMessage("more"))

	if s.Messages[0].Metadata.AgentTitle != "Greeter" {
		t.Error("metadata shared")
	}
	if s.Params.Agents[0].Title != "Billing" {
		t.Error("agents shared")
	}
	if s.Params.PendingAgentIDs[0] != "greeter" {
		t.Error("pending ids shared")
	}
	if len(s.Messages) != 1 {
		t.Error("messages shared")
	}
}

func TestTailAndLatestHuman(t *testing.T) {
	s := New("ws", "th")
	if _, ok := s.LatestHumanMessage(); ok {
		t.Fatal("empty state has no human message")
	}
	s.Append(HumanMessage("first"))
	s.Append(AgentMessage("reply", "greeter", "Greeter"))
	s.Append(HumanMessage("second"))
	s.Append(AgentMessage("reply 2", "greeter", "Greeter"))

	m, ok := s.LatestHumanMessage()
	if !ok || m.Content != "second" {
		t.Fatalf("LatestHumanMessage = %+v, %v", m, ok)
	}
	tail := s.Tail(3)
	if len(tail) != 3 || tail[0].Content != "reply" {
		t.Fatalf("Tail(3) = %+v", tail)
	}
	if len(s.Tail(10)) != 4 || s.Tail(0) != nil {
		t.Fatal("Tail bounds")
	}
}

func TestResetTurnKeepsPersistentFields(t *testing.T) {
	s := New("ws", "th")
	s.Params.AgentsLoaded = true
	s.Params.AgentIDs = []string{"kb"}
	s.Params.PendingAgentIDs = []string{"scheduler", "kb"}
	s.Params.SelectedAgentIDIndex = 2
	s.Params.SelectedAgentTitles = []string{"Scheduler", "Billing"}
	s.Params.Scheduling.Title = "Demo"
	s.ResetTurn()

	if len(s.Params.PendingAgentIDs) != 0 || s.Params.SelectedAgentIDIndex != 0 || len(s.Params.SelectedAgentTitles) != 0 {
		t.Fatalf("turn fields not reset: %+v", s.Params)
	}
	if !s.Params.AgentsLoaded || s.Params.Scheduling.Title != "Demo" {
		t.Fatalf("persistent fields lost: %+v", s.Params)
	}
}

func checkpointStores(t *testing.T) map[string]CheckpointStore {
	mem, err := NewMemoryCheckpoints(8)
	if err != nil {
		t.Fatalf("NewMemoryCheckpoints: %v", err)
	}
	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sq, err := NewSQLiteCheckpoints(context.Background(), db)
	if err != nil {
		t.Fatalf("NewSQLiteCheckpoints: %v", err)
	}
	file, err := NewFileCheckpoints(filepath.Join(t.TempDir(), "cp"))
	if err != nil {
		t.Fatalf("NewFileCheckpoints: %v", err)
	}
	return map[string]CheckpointStore{"memory": mem, "sqlite": sq, "file": file}
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range checkpointStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Load(ctx, "missing")
			if err != nil || got != nil {
				t.Fatalf("Load(missing) = %v, %v", got, err)
			}

			s := New("ws", "thread-1")
			s.Append(HumanMessage("book a demo"))
			s.Append(AgentMessage("Sure, when?", "scheduler", "Scheduler"))
			s.Params.AgentsLoaded = true
			s.Params.AgentIDs = []string{"kb-1"}
			s.Params.Scheduling = Draft{Title: "Demo"}
			if err := store.Save(ctx, "thread-1", s); err != nil {
				t.Fatalf("Save: %v", err)
			}
			s.Params.Scheduling.Description = "second save"
			if err := store.Save(ctx, "thread-1", s); err != nil {
				t.Fatalf("Save: %v", err)
			}

			got, err = store.Load(ctx, "thread-1")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(got.Messages) != 2 || got.Messages[1].Metadata.AgentID != "scheduler" {
				t.Fatalf("messages = %+v", got.Messages)
			}
			if got.Params.Scheduling.Description != "second save" || got.Params.AgentIDs[0] != "kb-1" {
				t.Fatalf("params = %+v", got.Params)
			}
			if err := got.Validate(); err != nil {
				t.Fatalf("loaded state invalid: %v", err)
			}
		})
	}
}

func TestSQLiteCheckpointVersion(t *testing.T) {
	ctx := context.Background()
	db, err := sqlitedb.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	store, err := NewSQLiteCheckpoints(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLiteCheckpoints: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.Save(ctx, "th", New("ws", "th")); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	v, err := store.Version(ctx, "th")
	if err != nil || v != 3 {
		t.Fatalf("Version = %d, %v", v, err)
	}
}

func TestMemoryCheckpointsEvict(t *testing.T) {
	ctx := context.Background()
	store, _ := NewMemoryCheckpoints(2)
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, id, New("ws", id)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if store.Len() != 2 {
		t.Fatalf("Len = %d", store.Len())
	}
	if got, _ := store.Load(ctx, "a"); got != nil {
		t.Fatal("oldest thread should be evicted")
	}
}

func TestCorruptCheckpoint(t *testing.T) {
	store, _ := NewMemoryCheckpoints(2)
	store.cache.Add("bad", []byte("{not json"))
	_, err := store.Load(context.Background(), "bad")
	if !errors.HasCode(err, errors.CodeCheckpoint) {
		t.Fatalf("err = %v, want CodeCheckpoint", err)
	}
}

func TestRenderHelpers(t *testing.T) {
	msgs := []Message{
		HumanMessage("I need help with my invoice"),
		AgentMessage("", "kb", "Billing"),
		AgentMessage("Sure, which invoice?", "kb", "Billing"),
	}
	lm := LLMMessages(msgs)
	if len(lm) != 2 || lm[1].Role != "assistant" {
		t.Fatalf("LLMMessages = %+v", lm)
	}
	want := "Customer: I need help with my invoice\nAgent (Billing): Sure, which invoice?"
	if got := Transcript(msgs); got != want {
		t.Fatalf("Transcript = %q", got)
	}
	if got := Joined(msgs); got != "I need help with my invoice\nSure, which invoice?" {
		t.Fatalf("Joined = %q", got)
	}

	back := FromHistory([]memory.ConversationMessage{ToHistory("th", msgs[2]), ToHistory("th", msgs[0])})
	if back[0].Metadata == nil || back[0].Metadata.AgentTitle != "Billing" || back[1].Metadata != nil {
		t.Fatalf("history round trip = %+v", back)
	}
}

func TestCheckpointThreadIsolation(t *testing.T) {
	ctx := context.Background()
	for name, store := range checkpointStores(t) {
		t.Run(name, func(t *testing.T) {
			acme := New("acme", "acme/t1")
			acme.Append(HumanMessage("only for acme"))
			if err := store.Save(ctx, "acme/t1", acme); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := store.Load(ctx, "globex/t1")
			if err != nil || got != nil {
				t.Fatalf("Load(globex/t1) = %+v, %v", got, err)
			}
			got, err = store.Load(ctx, "acme/t1")
			if err != nil || got == nil || got.Params.ThreadID != "acme/t1" {
				t.Fatalf("Load(acme/t1) = %+v, %v", got, err)
			}
		})
	}
}
