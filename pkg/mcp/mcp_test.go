// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/deskpilot/pkg/agents"
	"github.com/jllopis/deskpilot/pkg/calendar"
	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/orchestrator"
	"github.com/jllopis/deskpilot/pkg/registry"
)

type greeterOnly struct{}

func (greeterOnly) Route(context.Context, *conversation.State) []string {
	return []string{registry.GreeterID}
}

func newInProcess(t *testing.T) *Client {
	t.Helper()
	echo := agents.ProcessorFunc(func(_ context.Context, st *conversation.State, id string) (agents.Reply, error) {
		latest, _ := st.LatestHumanMessage()
		return agents.Reply{Content: "echo: " + latest.Content, AgentID: id, AgentTitle: agents.GreeterTitle}, nil
	})
	checkpoints, err := conversation.NewMemoryCheckpoints(0)
	if err != nil {
		t.Fatalf("NewMemoryCheckpoints: %v", err)
	}
	engine := orchestrator.NewEngine(registry.New(registry.StaticSource{}), greeterOnly{}, echo)
	srv := NewServer(orchestrator.NewService(engine, checkpoints), "test")

	c, err := NewInProcessClient(context.Background(), srv.MCPServer(), WithRetry(0, 0))
	if err != nil {
		t.Fatalf("NewInProcessClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServerTools(t *testing.T) {
	c := newInProcess(t)
	ctx := context.Background()

	for _, name := range []string{ToolSendMessage, ToolGetThread} {
		ok, err := c.HasTool(ctx, name)
		if err != nil || !ok {
			t.Fatalf("HasTool(%s) = %v, %v", name, ok, err)
		}
	}

	res, err := c.CallTool(ctx, ToolSendMessage, map[string]any{
		"workspace_id": "ws1",
		"thread_id":    "t1",
		"text":         "hello",
	})
	if err != nil {
		t.Fatalf("send_message: %v", err)
	}
	if res.IsError {
		t.Fatalf("send_message error: %s", ResultText(res))
	}
	var turn TurnResult
	if err := json.Unmarshal([]byte(ResultText(res)), &turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if turn.ThreadID != "t1" || turn.TurnID == "" || len(turn.Replies) != 1 || turn.Replies[0].Content != "echo: hello" {
		t.Fatalf("turn = %+v", turn)
	}

	res, err = c.CallTool(ctx, ToolGetThread, map[string]any{"workspace_id": "ws1", "thread_id": "t1"})
	if err != nil || res.IsError {
		t.Fatalf("get_thread: %v %s", err, ResultText(res))
	}
	var st conversation.State
	if err := json.Unmarshal([]byte(ResultText(res)), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.Params.WorkspaceID != "ws1" || len(st.Messages) != 2 {
		t.Fatalf("state = %+v", st)
	}
}

func TestServerToolErrors(t *testing.T) {
	c := newInProcess(t)
	ctx := context.Background()
	if _, err := c.CallTool(ctx, ToolSendMessage, map[string]any{"workspace_id": "ws1", "thread_id": "t1", "text": "private"}); err != nil {
		t.Fatalf("send_message: %v", err)
	}

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"empty text", ToolSendMessage, map[string]any{"workspace_id": "ws1", "thread_id": "t1", "text": " "}},
		{"unknown thread", ToolGetThread, map[string]any{"workspace_id": "ws1", "thread_id": "missing"}},
		{"missing thread id", ToolGetThread, map[string]any{"workspace_id": "ws1"}},
		{"missing workspace id", ToolGetThread, map[string]any{"thread_id": "t1"}},
		{"other workspace", ToolGetThread, map[string]any{"workspace_id": "ws2", "thread_id": "t1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.CallTool(ctx, tt.tool, tt.args)
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			if !res.IsError {
				t.Fatalf("expected tool error, got %s", ResultText(res))
			}
		})
	}
}

type fakeCaller struct {
	calls []map[string]any
	tool  string
	res   *mcp.CallToolResult
	err   error
}

func (f *fakeCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	f.tool = name
	f.calls = append(f.calls, args)
	return f.res, f.err
}

func TestCalendarCreator(t *testing.T) {
	ev, err := calendar.NewEvent("Demo", "Product demo", "2026-03-02T10:00:00Z", "2026-03-02T10:30:00Z", "30m")
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}

	t.Run("books event", func(t *testing.T) {
		f := &fakeCaller{res: mcp.NewToolResultText("created")}
		if err := NewCalendarCreator(f, "").CreateEvent(context.Background(), ev, "ws1"); err != nil {
			t.Fatalf("CreateEvent: %v", err)
		}
		if f.tool != DefaultCalendarTool || len(f.calls) != 1 {
			t.Fatalf("tool = %q calls = %d", f.tool, len(f.calls))
		}
		args := f.calls[0]
		if args["start"] != "2026-03-02T10:00:00Z" || args["workspace_id"] != "ws1" || args["title"] != "Demo" {
			t.Fatalf("args = %v", args)
		}
	})

	t.Run("tool error", func(t *testing.T) {
		f := &fakeCaller{res: mcp.NewToolResultError("slot taken")}
		err := NewCalendarCreator(f, "book").CreateEvent(context.Background(), ev, "ws1")
		if !errors.HasCode(err, errors.CodeCalendar) {
			t.Fatalf("err = %v", err)
		}
		if f.tool != "book" {
			t.Fatalf("tool = %q", f.tool)
		}
	})

	t.Run("transport error", func(t *testing.T) {
		f := &fakeCaller{err: stderrors.New("connection reset")}
		err := NewCalendarCreator(f, "").CreateEvent(context.Background(), ev, "ws1")
		if !errors.HasCode(err, errors.CodeCalendar) {
			t.Fatalf("err = %v", err)
		}
	})
}

// flakyClient fails the first CallTool attempts and counts pings.
type flakyClient struct {
	client.MCPClient
	failures int
	calls    int
	pings    int
	closed   bool
}

func (f *flakyClient) CallTool(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, stderrors.New("temporary")
	}
	return mcp.NewToolResultText("ok"), nil
}

func (f *flakyClient) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: []mcp.Tool{mcp.NewTool("create_event")}}, nil
}

func (f *flakyClient) Ping(context.Context) error {
	f.pings++
	return nil
}

func (f *flakyClient) Close() error {
	f.closed = true
	return nil
}

func TestClientRetry(t *testing.T) {
	f := &flakyClient{failures: 2}
	c := NewClient(f, WithRetry(2, time.Millisecond))
	res, err := c.CallTool(context.Background(), "create_event", nil)
	if err != nil || ResultText(res) != "ok" || f.calls != 3 {
		t.Fatalf("res = %v err = %v calls = %d", res, err, f.calls)
	}

	f = &flakyClient{failures: 1}
	c = NewClient(f, WithRetry(0, time.Millisecond))
	if _, err := c.CallTool(context.Background(), "create_event", nil); err == nil || f.calls != 1 {
		t.Fatalf("err = %v calls = %d", err, f.calls)
	}
}

func TestClientPingAndClose(t *testing.T) {
	f := &flakyClient{}
	c := NewClient(f)
	if err := c.Ping(context.Background()); err != nil || f.pings != 1 {
		t.Fatalf("ping err = %v pings = %d", err, f.pings)
	}
	if ok, err := c.HasTool(context.Background(), "create_event"); err != nil || !ok {
		t.Fatalf("HasTool = %v, %v", ok, err)
	}
	if err := c.Close(); err != nil || !f.closed {
		t.Fatalf("close err = %v closed = %v", err, f.closed)
	}
}
