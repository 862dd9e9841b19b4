// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"strings"

	"github.com/jllopis/deskpilot/pkg/llm"
	"github.com/jllopis/deskpilot/pkg/memory"
)

// LLMMessages maps the log to chat messages: human turns become user
// messages and agent replies assistant messages. Empty replies are skipped.
func LLMMessages(msgs []Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		role := llm.RoleUser
		if m.Role == RoleAgent {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// Transcript renders msgs as role-tagged lines, oldest first.
func Transcript(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		switch {
		case m.Role == RoleHuman:
			b.WriteString("Customer: ")
		case m.Metadata != nil && m.Metadata.AgentTitle != "":
			b.WriteString("Agent (" + m.Metadata.AgentTitle + "): ")
		default:
			b.WriteString("Agent: ")
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Joined concatenates every message content, separated by newlines.
func Joined(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// ToHistory converts a message for the thread history store.
func ToHistory(threadID string, m Message) memory.ConversationMessage {
	out := memory.ConversationMessage{
		ID:        m.ID,
		ThreadID:  threadID,
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	if m.Metadata != nil {
		out.AgentID = m.Metadata.AgentID
		out.AgentTitle = m.Metadata.AgentTitle
	}
	return out
}

// FromHistory converts stored history back into log messages.
func FromHistory(in []memory.ConversationMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, h := range in {
		m := Message{
			ID:        h.ID,
			Role:      Role(h.Role),
			Content:   h.Content,
			CreatedAt: h.CreatedAt,
		}
		if h.AgentID != "" || h.AgentTitle != "" {
			m.Metadata = &MessageMetadata{AgentID: h.AgentID, AgentTitle: h.AgentTitle}
		}
		out = append(out, m)
	}
	return out
}
