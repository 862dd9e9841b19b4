// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory stores the ordered message history of each thread.
//
// The history is the transport-facing record of a conversation. The
// checkpointed conversation state carries its own copy of the messages;
// processors read recent context from here when a store is configured.
package memory

import (
	"context"
	"time"
)

// Roles stored in thread history.
const (
	RoleHuman = "human"
	RoleAgent = "agent"
)

// ConversationMessage is one entry of a thread's history.
type ConversationMessage struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	AgentID    string    `json:"agent_id,omitempty"`
	AgentTitle string    `json:"agent_title,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConversationMemory stores and retrieves thread history in arrival order.
type ConversationMemory interface {
	// AppendMessage adds a message to the thread.
	AppendMessage(ctx context.Context, threadID string, msg ConversationMessage) error

	// GetMessages returns all messages of the thread, oldest first.
	GetMessages(ctx context.Context, threadID string) ([]ConversationMessage, error)

	// GetRecentMessages returns the last limit messages, oldest first.
	GetRecentMessages(ctx context.Context, threadID string, limit int) ([]ConversationMessage, error)

	// Clear removes all messages for a thread.
	Clear(ctx context.Context, threadID string) error
}

// TruncationStrategy bounds the history returned by GetMessages.
type TruncationStrategy interface {
	Truncate(ctx context.Context, messages []ConversationMessage) ([]ConversationMessage, error)
}

// WindowStrategy keeps only the last N messages.
type WindowStrategy struct {
	MaxMessages int
}

// Truncate implements TruncationStrategy.
func (w *WindowStrategy) Truncate(_ context.Context, messages []ConversationMessage) ([]ConversationMessage, error) {
	if w.MaxMessages <= 0 || len(messages) <= w.MaxMessages {
		return messages, nil
	}
	return messages[len(messages)-w.MaxMessages:], nil
}

// NewWindowStrategy creates a window-based truncation strategy.
func NewWindowStrategy(maxMessages int) *WindowStrategy {
	return &WindowStrategy{MaxMessages: maxMessages}
}

// ConversationConfig configures conversation memory behavior.
type ConversationConfig struct {
	// TruncationStrategy to apply when loading messages. Optional.
	TruncationStrategy TruncationStrategy
}

func (c ConversationConfig) truncate(ctx context.Context, messages []ConversationMessage) ([]ConversationMessage, error) {
	if c.TruncationStrategy == nil || len(messages) == 0 {
		return messages, nil
	}
	return c.TruncationStrategy.Truncate(ctx, messages)
}

func lastN(messages []ConversationMessage, limit int) []ConversationMessage {
	if limit <= 0 {
		return nil
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	out := make([]ConversationMessage, len(messages))
	copy(out, messages)
	return out
}
