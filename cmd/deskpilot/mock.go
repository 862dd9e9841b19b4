// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jllopis/deskpilot/pkg/agents"
	"github.com/jllopis/deskpilot/pkg/llm"
	"github.com/jllopis/deskpilot/pkg/registry"
	"github.com/jllopis/deskpilot/pkg/router"
)

// demoChat answers structured requests with canned JSON so the binary can be
// exercised with llm.provider=mock and no model server.
func demoChat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	format := ""
	if req.ResponseFormat != nil {
		format = req.ResponseFormat.Name
	}
	latest := lastUserMessage(req)

	var answer any
	switch format {
	case router.FormatName:
		id := registry.GreeterID
		if _, after, ok := strings.Cut(latest, "Latest customer message:\n"); ok {
			latest = after
		}
		lower := strings.ToLower(latest)
		for _, kw := range []string{"book", "schedule", "meeting", "demo", "call"} {
			if strings.Contains(lower, kw) {
				id = registry.SchedulerID
				break
			}
		}
		answer = map[string][]string{"agentIds": {id}}
	case agents.SchedulingFormat:
		answer = map[string]string{
			"title": "Meeting", "description": "", "startTime": "", "endTime": "", "duration": "",
			"response": "Sure! What should the meeting be about, and when would suit you?",
		}
	case agents.KnowledgeFormat:
		answer = map[string]string{"response": firstKnowledgeLine(systemPrompt(req))}
	default:
		answer = map[string]string{"response": "Hello! How can I help you today?"}
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{Content: string(data)}, nil
}

func lastUserMessage(req llm.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func systemPrompt(req llm.ChatRequest) string {
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			return m.Content
		}
	}
	return ""
}

func firstKnowledgeLine(system string) string {
	for _, line := range strings.Split(system, "\n") {
		if rest, ok := strings.CutPrefix(line, "[1] "); ok {
			return rest
		}
	}
	return "Let me check with the team and get back to you."
}
