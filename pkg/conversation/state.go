// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package conversation defines the per-thread state carried across turns and
// the checkpoint stores that persist it.
package conversation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/registry"
)

// Role identifies who authored a message.
type Role string

const (
	RoleHuman Role = "human"
	RoleAgent Role = "agent"
)

// MessageMetadata names the processor that produced an agent message.
type MessageMetadata struct {
	AgentID    string `json:"agentId"`
	AgentTitle string `json:"agentTitle"`
}

// Message is one entry of the append-only conversation log.
type Message struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// HumanMessage builds an inbound customer message.
func HumanMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleHuman,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
}

// AgentMessage builds a reply attributed to agentID.
func AgentMessage(content, agentID, agentTitle string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAgent,
		Content:   content,
		Metadata:  &MessageMetadata{AgentID: agentID, AgentTitle: agentTitle},
		CreatedAt: time.Now().UTC(),
	}
}

// SchedulingStatus tracks the calendar side effect of the current draft.
type SchedulingStatus string

const (
	SchedulingPending   SchedulingStatus = "pending"
	SchedulingCompleted SchedulingStatus = "completed"
	// SchedulingFailed is accepted in stored state but never set by deskpilot:
	// a failed calendar call leaves the draft pending so a later turn retries.
	SchedulingFailed SchedulingStatus = "failed"
)

func (s SchedulingStatus) valid() bool {
	switch s {
	case SchedulingPending, SchedulingCompleted, SchedulingFailed:
		return true
	}
	return false
}

// Draft is the calendar event being slot-filled across turns. Times are
// RFC 3339 strings as produced by the extraction model.
type Draft struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Duration    string `json:"duration"`
}

// Ready reports whether all five fields are non-empty. Values are taken as
// given; extraction trims them before they reach the draft.
func (d Draft) Ready() bool {
	for _, v := range []string{d.Title, d.Description, d.StartTime, d.EndTime, d.Duration} {
		if v == "" {
			return false
		}
	}
	return true
}

// Missing lists the names of the empty fields.
func (d Draft) Missing() []string {
	var out []string
	fields := []struct{ name, v string }{
		{"title", d.Title},
		{"description", d.Description},
		{"startTime", d.StartTime},
		{"endTime", d.EndTime},
		{"duration", d.Duration},
	}
	for _, f := range fields {
		if f.v == "" {
			out = append(out, f.name)
		}
	}
	return out
}

// AgentParams is the typed record shared by the router and processors.
type AgentParams struct {
	WorkspaceID string `json:"workspaceId"`
	ThreadID    string `json:"threadId"`

	// Agents is loaded once per state and never refreshed.
	AgentsLoaded bool                  `json:"agentsLoaded"`
	Agents       []registry.Descriptor `json:"agents"`
	AgentIDs     []string              `json:"agentIds"`

	// Turn scoped; reset when the turn completes.
	PendingAgentIDs      []string `json:"pendingAgentIds"`
	SelectedAgentIDIndex int      `json:"selectedAgentIdIndex"`
	SelectedAgentTitles  []string `json:"selectedAgentTitles"`

	// Persist across turns.
	Scheduling       Draft            `json:"scheduling"`
	SchedulingStatus SchedulingStatus `json:"schedulingStatus"`
}

// State is the unit of checkpointing, keyed by thread id.
type State struct {
	Messages []Message   `json:"messages"`
	Params   AgentParams `json:"agentParams"`
}

// New returns the state of a thread that has not seen any message.
func New(workspaceID, threadID string) *State {
	return &State{
		Messages: []Message{},
		Params: AgentParams{
			WorkspaceID:      workspaceID,
			ThreadID:         threadID,
			SchedulingStatus: SchedulingPending,
		},
	}
}

// Validate checks the invariants a turn relies on. Violations are fatal
// CodeState errors.
func (s *State) Validate() error {
	if s == nil {
		return stateError("state is nil")
	}
	p := s.Params
	if p.WorkspaceID == "" || p.ThreadID == "" {
		return stateError("workspace and thread ids are required")
	}
	if p.SelectedAgentIDIndex < 0 || p.SelectedAgentIDIndex > len(p.PendingAgentIDs) {
		return stateError(fmt.Sprintf("agent cursor %d outside [0, %d]", p.SelectedAgentIDIndex, len(p.PendingAgentIDs)))
	}
	if !p.SchedulingStatus.valid() {
		return stateError(fmt.Sprintf("unknown scheduling status %q", p.SchedulingStatus))
	}
	if !p.AgentsLoaded && (len(p.Agents) > 0 || len(p.AgentIDs) > 0) {
		return stateError("agents present but not marked loaded")
	}
	for i, m := range s.Messages {
		if m.Role != RoleHuman && m.Role != RoleAgent {
			return stateError(fmt.Sprintf("message %d has unknown role %q", i, m.Role))
		}
	}
	return nil
}

func stateError(msg string) error {
	return errors.New(errors.CodeState, msg, nil).WithRecoverable(false)
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{
		Messages: make([]Message, len(s.Messages)),
		Params:   s.Params,
	}
	for i, m := range s.Messages {
		if m.Metadata != nil {
			md := *m.Metadata
			m.Metadata = &md
		}
		out.Messages[i] = m
	}
	out.Params.Agents = append([]registry.Descriptor(nil), s.Params.Agents...)
	out.Params.AgentIDs = append([]string(nil), s.Params.AgentIDs...)
	out.Params.PendingAgentIDs = append([]string(nil), s.Params.PendingAgentIDs...)
	out.Params.SelectedAgentTitles = append([]string(nil), s.Params.SelectedAgentTitles...)
	return out
}

// Append adds msg to the log.
func (s *State) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// LatestHumanMessage scans backward for the most recent human message.
func (s *State) LatestHumanMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleHuman {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// Tail returns the last n messages, oldest first.
func (s *State) Tail(n int) []Message {
	if n <= 0 {
		return nil
	}
	if n > len(s.Messages) {
		n = len(s.Messages)
	}
	return s.Messages[len(s.Messages)-n:]
}

// AgentTitle resolves the title of a loaded knowledge agent.
func (s *State) AgentTitle(id string) (string, bool) {
	for _, a := range s.Params.Agents {
		if a.ID == id {
			return a.Title, true
		}
	}
	return "", false
}

// ResetTurn clears the turn scoped fields.
func (s *State) ResetTurn() {
	s.Params.PendingAgentIDs = []string{}
	s.Params.SelectedAgentIDIndex = 0
	s.Params.SelectedAgentTitles = []string{}
}
