// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package core holds the small cross-cutting ports shared by the turn engine
// and its transports: outbound notifications, health checks and turn ids.
package core

import (
	"context"
	"time"
)

// EventType identifies a notification about a thread.
type EventType string

const (
	EventMessageReceived EventType = "message.received"
	EventAgentReply      EventType = "agent.reply"
	EventTurnCompleted   EventType = "turn.completed"
	EventTurnFailed      EventType = "turn.failed"
)

// MessagePayload is the wire form of a message carried by an event.
type MessagePayload struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	AgentID    string    `json:"agentId,omitempty"`
	AgentTitle string    `json:"agentTitle,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Event is what a turn publishes for its caller to deliver.
type Event struct {
	Type        EventType       `json:"type"`
	WorkspaceID string          `json:"workspaceId"`
	ThreadID    string          `json:"threadId"`
	TurnID      string          `json:"turnId,omitempty"`
	Message     *MessagePayload `json:"message,omitempty"`
	Error       string          `json:"error,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, workspaceID, threadID string) Event {
	return Event{
		Type:        t,
		WorkspaceID: workspaceID,
		ThreadID:    threadID,
		Timestamp:   time.Now().UTC(),
	}
}

// Notifier receives thread events. Notify must not block the turn.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NoopNotifier drops every event.
type NoopNotifier struct{}

// Notify implements Notifier.
func (NoopNotifier) Notify(context.Context, Event) {}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiNotifier fans an event out to several notifiers in order.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}
