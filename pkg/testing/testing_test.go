// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"errors"
	"testing"

	"github.com/jllopis/deskpilot/pkg/calendar"
	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/llm"
)

// echoRunner appends the input and one greeter reply.
type echoRunner struct {
	failOn string
}

func (e echoRunner) RunTurn(_ context.Context, ws, thread, text string, prev *conversation.State) (*conversation.State, error) {
	if text == e.failOn {
		return nil, errors.New("state is broken")
	}
	s := prev.Clone()
	if s == nil {
		s = conversation.New(ws, thread)
	}
	s.Append(conversation.HumanMessage(text))
	s.Append(conversation.AgentMessage("echo: "+text, "greeter", "Greeter"))
	return s, nil
}

func TestScenarioThreadsState(t *testing.T) {
	var seen []int
	scenario := NewScenario("echo").
		AfterTurn(func(i int, st *conversation.State) { seen = append(seen, len(st.Messages)) }).
		Turn("hi").
		ExpectNoError().
		ExpectReplies(1).
		ExpectRepliesFrom("greeter").
		ExpectReply(Equals("echo: hi")).
		Turn("again").
		ExpectAppendOnly().
		ExpectReply(Contains("again")).
		ExpectSchedulingStatus(conversation.SchedulingPending)

	result := scenario.Run(t, echoRunner{})
	result.Assert(t)

	if len(result.Final.Messages) != 4 {
		t.Fatalf("final messages = %d", len(result.Final.Messages))
	}
	if len(seen) != 2 || seen[1] != 4 {
		t.Fatalf("AfterTurn saw %v", seen)
	}
}

func TestScenarioErrorKeepsPreviousState(t *testing.T) {
	scenario := NewScenario("broken").
		Turn("hi").
		Turn("boom").
		ExpectError(Contains("broken"))

	result := scenario.Run(t, echoRunner{failOn: "boom"})
	result.Assert(t)
	if len(result.Final.Messages) != 2 {
		t.Fatalf("failed turn replaced state: %d messages", len(result.Final.Messages))
	}
}

func TestScenarioProviderRules(t *testing.T) {
	p := NewScenarioProvider().
		OnFormat("route", `{"agentIds":["greeter"]}`).
		OnError(SystemContains("knowledge"), errors.New("down")).
		AddResponse("queued")

	ctx := context.Background()
	route := llm.ChatRequest{ResponseFormat: &llm.ResponseFormat{Name: "route"}}
	for i := 0; i < 2; i++ {
		resp, err := p.Chat(ctx, route)
		if err != nil || resp.Content != `{"agentIds":["greeter"]}` {
			t.Fatalf("route call %d: %v, %v", i, resp, err)
		}
	}
	kb := llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleSystem, Content: "answer from knowledge"}}}
	if _, err := p.Chat(ctx, kb); err == nil {
		t.Fatal("expected rule error")
	}
	resp, err := p.Chat(ctx, llm.ChatRequest{})
	if err != nil || resp.Content != "queued" {
		t.Fatalf("queued: %v, %v", resp, err)
	}
	if _, err := p.Chat(ctx, llm.ChatRequest{}); err == nil {
		t.Fatal("expected exhausted queue error")
	}

	if p.CallCount() != 5 {
		t.Fatalf("CallCount = %d", p.CallCount())
	}
	if n := len(p.RequestsFor(FormatIs("route"))); n != 2 {
		t.Fatalf("route requests = %d", n)
	}
	p.Reset()
	if p.CallCount() != 0 || p.LastRequest() != nil {
		t.Fatal("Reset did not clear requests")
	}
}

func TestScenarioProviderSequence(t *testing.T) {
	p := NewScenarioProvider().OnFormat("scheduling", "first", "second")
	req := llm.ChatRequest{ResponseFormat: &llm.ResponseFormat{Name: "scheduling"}}
	for _, want := range []string{"first", "second", "second"} {
		resp, _ := p.Chat(context.Background(), req)
		if resp.Content != want {
			t.Fatalf("got %q, want %q", resp.Content, want)
		}
	}
}

func TestStaticEmbedder(t *testing.T) {
	e := &StaticEmbedder{Vectors: map[string][]float32{"a": {1, 0}}, Default: []float32{0, 1}}
	v, _ := e.Embed(context.Background(), "a")
	if v[0] != 1 {
		t.Fatalf("v = %v", v)
	}
	v, _ = e.Embed(context.Background(), "b")
	if v[1] != 1 {
		t.Fatalf("default = %v", v)
	}
	e.Err = errors.New("down")
	if _, err := e.Embed(context.Background(), "a"); err == nil {
		t.Fatal("expected error")
	}
	if len(e.Calls()) != 3 {
		t.Fatalf("calls = %v", e.Calls())
	}
}

func TestRecordingCalendar(t *testing.T) {
	c := &RecordingCalendar{}
	if err := c.CreateEvent(context.Background(), calendar.Event{Title: "Demo"}, "ws"); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	c.SetErr(errors.New("calendar down"))
	if err := c.CreateEvent(context.Background(), calendar.Event{Title: "Demo"}, "ws"); err == nil {
		t.Fatal("expected error")
	}
	if c.Count() != 2 || c.Events()[0].WorkspaceID != "ws" {
		t.Fatalf("events = %+v", c.Events())
	}
}

func TestAssertRequest(t *testing.T) {
	req := &llm.ChatRequest{
		Model: "m",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You route messages"},
			{Role: llm.RoleUser, Content: "hello"},
		},
		ResponseFormat: &llm.ResponseFormat{Name: "route"},
	}
	AssertRequest(t, req).
		HasModel("m").
		HasMessageCount(2).
		HasFormat("route").
		HasSystemMessage("route").
		HasUserMessage("hello").
		LacksText("billing")
	RequireEqual(t, 2, len(req.Messages), "messages")
	RequireNoError(t, nil, "nil error")
}
