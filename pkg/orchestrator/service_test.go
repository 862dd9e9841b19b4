// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/deskpilot/pkg/agents"
	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/core"
	derrors "github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/memory"
)

func echoProcessor() agents.Processor {
	return agents.ProcessorFunc(func(_ context.Context, st *conversation.State, id string) (agents.Reply, error) {
		latest, _ := st.LatestHumanMessage()
		return agents.Reply{Content: "echo: " + latest.Content, AgentID: id, AgentTitle: "Echo"}, nil
	})
}

func newCheckpoints(t *testing.T) *conversation.MemoryCheckpoints {
	t.Helper()
	c, err := conversation.NewMemoryCheckpoints(0)
	if err != nil {
		t.Fatalf("NewMemoryCheckpoints: %v", err)
	}
	return c
}

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) Notify(_ context.Context, ev core.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []core.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.EventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

func TestServiceHandleMessage(t *testing.T) {
	checkpoints := newCheckpoints(t)
	history := memory.NewInMemoryConversation(memory.ConversationConfig{})
	events := &eventLog{}
	svc := NewService(
		NewEngine(&countingLoader{}, fixedRouter{"greeter"}, echoProcessor()),
		checkpoints,
		WithHistory(history),
		WithNotifier(events),
	)
	ctx := context.Background()

	report, err := svc.HandleMessage(ctx, workspace, "t1", "hello")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(report.Replies) != 1 || report.Replies[0].Content != "echo: hello" {
		t.Fatalf("replies = %+v", report.Replies)
	}
	if _, err := svc.HandleMessage(ctx, workspace, "t1", "again"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	st, err := svc.State(ctx, workspace, "t1")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(st.Messages) != 4 || st.Messages[3].Content != "echo: again" {
		t.Fatalf("checkpointed messages = %+v", st.Messages)
	}

	hist, err := history.GetMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(hist) != 4 || hist[0].Content != "hello" || hist[1].Content != "echo: hello" {
		t.Fatalf("history = %+v", hist)
	}
	if hist[0].ID != st.Messages[0].ID {
		t.Fatalf("history id %q != state id %q", hist[0].ID, st.Messages[0].ID)
	}

	want := []core.EventType{
		core.EventMessageReceived, core.EventAgentReply, core.EventTurnCompleted,
		core.EventMessageReceived, core.EventAgentReply, core.EventTurnCompleted,
	}
	got := events.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	events.mu.Lock()
	reply := events.events[1]
	events.mu.Unlock()
	if reply.Message == nil || reply.Message.AgentID != "greeter" || reply.Message.AgentTitle != "Echo" {
		t.Fatalf("reply event = %+v", reply)
	}
}

func TestServiceRejectsInvalidInput(t *testing.T) {
	svc := NewService(NewEngine(&countingLoader{}, fixedRouter{}, echoProcessor()), newCheckpoints(t))
	cases := []struct{ ws, thread, text string }{
		{"", "t", "hi"},
		{workspace, " ", "hi"},
		{workspace, "t", "   "},
	}
	for _, c := range cases {
		if _, err := svc.HandleMessage(context.Background(), c.ws, c.thread, c.text); !derrors.HasCode(err, derrors.CodeInvalidInput) {
			t.Errorf("HandleMessage(%q, %q, %q) err = %v", c.ws, c.thread, c.text, err)
		}
		if _, err := svc.Dispatch(context.Background(), c.ws, c.thread, c.text); !derrors.HasCode(err, derrors.CodeInvalidInput) {
			t.Errorf("Dispatch(%q, %q, %q) err = %v", c.ws, c.thread, c.text, err)
		}
	}
}

func TestServiceStateNotFound(t *testing.T) {
	svc := NewService(NewEngine(&countingLoader{}, fixedRouter{}, echoProcessor()), newCheckpoints(t))
	if _, err := svc.State(context.Background(), workspace, "missing"); !derrors.HasCode(err, derrors.CodeNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestServiceSerializesThread(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	slow := agents.ProcessorFunc(func(_ context.Context, _ *conversation.State, id string) (agents.Reply, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return agents.Reply{Content: "ok", AgentID: id}, nil
	})
	svc := NewService(NewEngine(&countingLoader{}, fixedRouter{"greeter"}, slow), newCheckpoints(t))

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.HandleMessage(context.Background(), workspace, "busy", "ping"); err != nil {
				t.Errorf("HandleMessage: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Fatalf("max concurrent turns on one thread = %d", maxInFlight.Load())
	}
	st, err := svc.State(context.Background(), workspace, "busy")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(st.Messages) != 2*turns {
		t.Fatalf("messages = %d, want %d", len(st.Messages), 2*turns)
	}
	if n := svc.locks.size(); n != 0 {
		t.Fatalf("lock entries left = %d", n)
	}
}

func TestServiceDispatch(t *testing.T) {
	broker := core.NewBroker(16, nil)
	events, cancel := broker.Subscribe("t-async")
	defer cancel()
	svc := NewService(
		NewEngine(&countingLoader{}, fixedRouter{"greeter"}, echoProcessor()),
		newCheckpoints(t),
		WithNotifier(broker),
	)

	ctx, stop := context.WithCancel(context.Background())
	msg, err := svc.Dispatch(ctx, workspace, "t-async", "are you there?")
	stop()
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if msg.Role != conversation.RoleHuman || msg.ID == "" {
		t.Fatalf("inbound = %+v", msg)
	}

	waitCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := svc.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	var types []core.EventType
	for len(types) < 3 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
			if ev.Type == core.EventMessageReceived && ev.Message.ID != msg.ID {
				t.Fatalf("received event id = %s, want %s", ev.Message.ID, msg.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("events so far = %v", types)
		}
	}
	if types[2] != core.EventTurnCompleted {
		t.Fatalf("events = %v", types)
	}
	if _, err := svc.State(context.Background(), workspace, "t-async"); err != nil {
		t.Fatalf("turn was not checkpointed: %v", err)
	}
}

func TestServiceReportsFailedTurn(t *testing.T) {
	checkpoints := newCheckpoints(t)
	bad := conversation.New(workspace, "t-bad")
	bad.Params.SchedulingStatus = "lost"
	if err := checkpoints.Save(context.Background(), "t-bad", bad); err != nil {
		t.Fatalf("Save: %v", err)
	}
	events := &eventLog{}
	svc := NewService(NewEngine(&countingLoader{}, fixedRouter{"greeter"}, echoProcessor()), checkpoints, WithNotifier(events))

	if _, err := svc.HandleMessage(context.Background(), workspace, "t-bad", "hi"); !derrors.HasCode(err, derrors.CodeState) {
		t.Fatalf("err = %v", err)
	}
	got := events.types()
	if got[len(got)-1] != core.EventTurnFailed {
		t.Fatalf("events = %v", got)
	}
	events.mu.Lock()
	code := events.events[len(events.events)-1].Error
	events.mu.Unlock()
	if code != string(derrors.CodeState) {
		t.Fatalf("failure code = %q", code)
	}
}

func TestServiceFailedTurnLeavesNoHistory(t *testing.T) {
	history := memory.NewInMemoryConversation(memory.ConversationConfig{})
	events := &eventLog{}
	svc := NewService(
		NewEngine(&countingLoader{}, fixedRouter{"greeter"}, echoProcessor()),
		newCheckpoints(t),
		WithHistory(history),
		WithNotifier(events),
	)
	ctx := context.Background()

	if _, err := svc.HandleMessage(ctx, "ws-a", "t1", "hello"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if _, err := svc.HandleMessage(ctx, "ws-b", "t1", "from another workspace"); !derrors.HasCode(err, derrors.CodeState) {
		t.Fatalf("err = %v", err)
	}

	hist, err := history.GetMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history = %+v", hist)
	}
	for _, m := range hist {
		if m.Content == "from another workspace" {
			t.Fatalf("rejected message recorded: %+v", hist)
		}
	}
	if _, err := svc.State(ctx, "ws-b", "t1"); !derrors.HasCode(err, derrors.CodeNotFound) {
		t.Fatalf("State from another workspace: err = %v", err)
	}
	got := events.types()
	want := []core.EventType{core.EventMessageReceived, core.EventAgentReply, core.EventTurnCompleted, core.EventTurnFailed}
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}
