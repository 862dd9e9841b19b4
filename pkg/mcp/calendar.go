// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/deskpilot/pkg/calendar"
	"github.com/jllopis/deskpilot/pkg/errors"
)

// DefaultCalendarTool is the tool CalendarCreator calls unless configured.
const DefaultCalendarTool = "create_event"

// ToolCaller executes a tool on an MCP server. *Client implements it.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// CalendarCreator books events through a calendar tool on an MCP server.
// The tool receives title, description, start, end (RFC 3339), duration and
// workspace_id as string arguments.
type CalendarCreator struct {
	caller ToolCaller
	tool   string
}

// NewCalendarCreator builds a creator calling tool on caller. The caller
// should not retry: a duplicated call books a duplicated event.
func NewCalendarCreator(caller ToolCaller, tool string) *CalendarCreator {
	if tool == "" {
		tool = DefaultCalendarTool
	}
	return &CalendarCreator{caller: caller, tool: tool}
}

// CreateEvent implements calendar.Creator.
func (c *CalendarCreator) CreateEvent(ctx context.Context, ev calendar.Event, workspaceID string) error {
	args := map[string]any{
		"title":        ev.Title,
		"description":  ev.Description,
		"start":        ev.Start.Format(time.RFC3339),
		"end":          ev.End.Format(time.RFC3339),
		"duration":     ev.Duration,
		"workspace_id": workspaceID,
	}
	res, err := c.caller.CallTool(ctx, c.tool, args)
	if err != nil {
		return errors.New(errors.CodeCalendar, "calendar tool call failed", err).
			WithContext("tool", c.tool).
			WithRecoverable(true)
	}
	if res == nil {
		return errors.New(errors.CodeCalendar, "calendar tool returned no result", nil).WithContext("tool", c.tool)
	}
	if res.IsError {
		return errors.New(errors.CodeCalendar, "calendar tool rejected the event", nil).
			WithContext("tool", c.tool).
			WithContext("detail", ResultText(res))
	}
	return nil
}

// ResultText joins the text content of a tool result.
func ResultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, item := range res.Content {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
