// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/deskpilot/pkg/core"
	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/orchestrator"
)

// Tool names exposed by Server.
const (
	ToolSendMessage = "send_message"
	ToolGetThread   = "get_thread"
)

// Server exposes an orchestrator.Service as MCP tools, so an assistant can
// hand a customer message to deskpilot and read the replies.
type Server struct {
	service   *orchestrator.Service
	mcpServer *server.MCPServer
}

// TurnResult is the structured result of send_message.
type TurnResult struct {
	ThreadID    string                 `json:"thread_id"`
	TurnID      string                 `json:"turn_id"`
	AgentTitles []string               `json:"agent_titles"`
	Replies     []*core.MessagePayload `json:"replies"`
}

// NewServer registers the deskpilot tools.
func NewServer(svc *orchestrator.Service, version string) *Server {
	s := &Server{
		service: svc,
		mcpServer: server.NewMCPServer("deskpilot", version,
			server.WithToolCapabilities(false),
			server.WithInstructions("Route helpdesk customer messages through deskpilot agents."),
		),
	}
	s.mcpServer.AddTool(mcp.NewTool(ToolSendMessage,
		mcp.WithDescription("Run one conversation turn for a customer message and return the agent replies."),
		mcp.WithString("workspace_id", mcp.Required(), mcp.Description("Workspace the thread belongs to")),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Conversation thread id")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Customer message")),
	), s.handleSendMessage)
	s.mcpServer.AddTool(mcp.NewTool(ToolGetThread,
		mcp.WithDescription("Return the checkpointed state of a thread."),
		mcp.WithString("workspace_id", mcp.Required(), mcp.Description("Workspace the thread belongs to")),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Conversation thread id")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleGetThread)
	return s
}

// MCPServer returns the underlying server, e.g. for an in-process client.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on stdin and stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID := req.GetString("workspace_id", "")
	threadID := req.GetString("thread_id", "")
	text := req.GetString("text", "")

	report, err := s.service.HandleMessage(ctx, workspaceID, threadID, text)
	if err != nil {
		return toolError(err), nil
	}
	out := TurnResult{
		ThreadID:    threadID,
		TurnID:      report.TurnID,
		AgentTitles: report.AgentTitles,
		Replies:     make([]*core.MessagePayload, 0, len(report.Replies)),
	}
	for _, m := range report.Replies {
		out.Replies = append(out.Replies, orchestrator.Payload(m))
	}
	return mcp.NewToolResultJSON(out)
}

func (s *Server) handleGetThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, err := req.RequireString("workspace_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	threadID, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := s.service.State(ctx, workspaceID, threadID)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultJSON(st)
}

// toolError reports a failed call inside the result so the calling model
// can see it.
func toolError(err error) *mcp.CallToolResult {
	de := errors.As(err)
	return mcp.NewToolResultErrorf("%s: %s", de.Code, de.Message)
}
