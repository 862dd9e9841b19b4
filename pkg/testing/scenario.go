// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing deskpilot turns.
//
// This package includes:
//   - Multi-turn conversation scenarios with per-turn expectations
//   - A scripted LLM provider, a static embedder and a recording calendar
//   - Assertion helpers for captured LLM requests
//
// Example usage:
//
//	scenario := testing.NewScenario("book a demo").
//	    Turn("I'd like to book a demo").
//	        ExpectRepliesFrom("scheduler").
//	        ExpectSchedulingStatus(conversation.SchedulingPending).
//	    Turn("Tomorrow 10am for 30 minutes").
//	        ExpectSchedulingStatus(conversation.SchedulingCompleted)
//
//	result := scenario.Run(t, engine)
//	result.Assert(t)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/deskpilot/pkg/conversation"
)

// TurnRunner runs one turn; orchestrator.Engine implements it.
type TurnRunner interface {
	RunTurn(ctx context.Context, workspaceID, threadID, text string, prev *conversation.State) (*conversation.State, error)
}

// Scenario is a sequence of inbound messages on one thread.
type Scenario struct {
	name        string
	workspaceID string
	threadID    string
	initial     *conversation.State
	timeout     time.Duration
	turns       []*turn
	afterTurn   []func(i int, s *conversation.State)
}

type turn struct {
	input        string
	expectations []Expectation
}

// Expectation is checked after the turn it was declared on.
type Expectation interface {
	Check(r *TurnResult) error
	Description() string
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Input    string
	Before   *conversation.State
	State    *conversation.State
	Error    error
	Duration time.Duration
}

// Replies returns the agent messages appended by the turn.
func (r *TurnResult) Replies() []conversation.Message {
	if r.State == nil {
		return nil
	}
	start := 0
	if r.Before != nil {
		start = len(r.Before.Messages)
	}
	if start >= len(r.State.Messages) {
		return nil
	}
	var out []conversation.Message
	for _, m := range r.State.Messages[start:] {
		if m.Role == conversation.RoleAgent {
			out = append(out, m)
		}
	}
	return out
}

// NewScenario creates a scenario on workspace "ws-test" and a thread named
// after the scenario.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:        name,
		workspaceID: "ws-test",
		threadID:    "thread-" + strings.ReplaceAll(name, " ", "-"),
		timeout:     30 * time.Second,
	}
}

// WithThread sets the workspace and thread ids.
func (s *Scenario) WithThread(workspaceID, threadID string) *Scenario {
	s.workspaceID, s.threadID = workspaceID, threadID
	return s
}

// WithState starts the scenario from an existing state.
func (s *Scenario) WithState(st *conversation.State) *Scenario {
	s.initial = st
	return s
}

// WithTimeout bounds each turn.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// AfterTurn registers a hook run after every turn, e.g. to reset fakes.
func (s *Scenario) AfterTurn(fn func(i int, st *conversation.State)) *Scenario {
	s.afterTurn = append(s.afterTurn, fn)
	return s
}

// Turn appends an inbound message. Following Expect calls apply to it.
func (s *Scenario) Turn(input string) *Scenario {
	s.turns = append(s.turns, &turn{input: input})
	return s
}

// Expect adds an expectation to the latest turn.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	if len(s.turns) == 0 {
		panic("testing: Expect called before Turn")
	}
	last := s.turns[len(s.turns)-1]
	last.expectations = append(last.expectations, exp)
	return s
}

// ExpectNoError expects the turn to succeed.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(check("no error", func(r *TurnResult) error {
		if r.Error != nil {
			return fmt.Errorf("expected no error, got: %v", r.Error)
		}
		return nil
	}))
}

// ExpectError expects the turn to fail with a matching error.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(check("error "+matcher.Description(), func(r *TurnResult) error {
		if r.Error == nil {
			return fmt.Errorf("expected error, got nil")
		}
		if !matcher.Match(r.Error.Error()) {
			return fmt.Errorf("error %q does not match", r.Error)
		}
		return nil
	}))
}

// ExpectReplies expects exactly n agent replies.
func (s *Scenario) ExpectReplies(n int) *Scenario {
	return s.Expect(check(fmt.Sprintf("%d replies", n), func(r *TurnResult) error {
		if got := len(r.Replies()); got != n {
			return fmt.Errorf("got %d replies", got)
		}
		return nil
	}))
}

// ExpectRepliesFrom expects the replies to come from agentIDs, in order.
func (s *Scenario) ExpectRepliesFrom(agentIDs ...string) *Scenario {
	return s.Expect(check(fmt.Sprintf("replies from %v", agentIDs), func(r *TurnResult) error {
		var got []string
		for _, m := range r.Replies() {
			if m.Metadata != nil {
				got = append(got, m.Metadata.AgentID)
			} else {
				got = append(got, "")
			}
		}
		if !slices.Equal(got, agentIDs) {
			return fmt.Errorf("got replies from %v", got)
		}
		return nil
	}))
}

// ExpectReply matches the content of the last reply.
func (s *Scenario) ExpectReply(matcher StringMatcher) *Scenario {
	return s.Expect(check("last reply "+matcher.Description(), func(r *TurnResult) error {
		replies := r.Replies()
		if len(replies) == 0 {
			return fmt.Errorf("no replies")
		}
		if c := replies[len(replies)-1].Content; !matcher.Match(c) {
			return fmt.Errorf("reply %q does not match", c)
		}
		return nil
	}))
}

// ExpectSchedulingStatus checks the status after the turn.
func (s *Scenario) ExpectSchedulingStatus(want conversation.SchedulingStatus) *Scenario {
	return s.Expect(check("scheduling status "+string(want), func(r *TurnResult) error {
		if r.State == nil {
			return fmt.Errorf("no state")
		}
		if got := r.State.Params.SchedulingStatus; got != want {
			return fmt.Errorf("status is %q", got)
		}
		return nil
	}))
}

// ExpectState runs an arbitrary check on the resulting state.
func (s *Scenario) ExpectState(desc string, fn func(st *conversation.State) error) *Scenario {
	return s.Expect(check(desc, func(r *TurnResult) error {
		if r.State == nil {
			return fmt.Errorf("no state")
		}
		return fn(r.State)
	}))
}

// ExpectAppendOnly checks that the turn kept every prior message unchanged.
func (s *Scenario) ExpectAppendOnly() *Scenario {
	return s.Expect(check("append only", func(r *TurnResult) error {
		if r.Before == nil || r.State == nil {
			return nil
		}
		if len(r.State.Messages) < len(r.Before.Messages) {
			return fmt.Errorf("messages shrank from %d to %d", len(r.Before.Messages), len(r.State.Messages))
		}
		for i, m := range r.Before.Messages {
			if r.State.Messages[i].ID != m.ID || r.State.Messages[i].Content != m.Content {
				return fmt.Errorf("message %d changed", i)
			}
		}
		return nil
	}))
}

// Run executes every turn in order, threading the state through.
func (s *Scenario) Run(t *testing.T, runner TurnRunner) *ScenarioResult {
	t.Helper()
	res := &ScenarioResult{scenario: s}
	state := s.initial
	for i, tr := range s.turns {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		start := time.Now()
		next, err := runner.RunTurn(ctx, s.workspaceID, s.threadID, tr.input, state)
		cancel()

		res.Turns = append(res.Turns, &TurnResult{
			Input:    tr.input,
			Before:   state,
			State:    next,
			Error:    err,
			Duration: time.Since(start),
		})
		if err == nil {
			state = next
		}
		for _, fn := range s.afterTurn {
			fn(i, state)
		}
	}
	res.Final = state
	return res
}

// ScenarioResult holds every turn of a run.
type ScenarioResult struct {
	scenario *Scenario
	Turns    []*TurnResult
	Final    *conversation.State
}

// Assert checks the expectations of every turn.
func (r *ScenarioResult) Assert(t *testing.T) {
	t.Helper()
	for i, tr := range r.scenario.turns {
		for _, exp := range tr.expectations {
			if err := exp.Check(r.Turns[i]); err != nil {
				t.Errorf("scenario %q turn %d (%q): expectation %q failed: %v",
					r.scenario.name, i+1, tr.input, exp.Description(), err)
			}
		}
	}
}

type funcExpectation struct {
	desc string
	fn   func(*TurnResult) error
}

func check(desc string, fn func(*TurnResult) error) Expectation {
	return &funcExpectation{desc: desc, fn: fn}
}

func (e *funcExpectation) Check(r *TurnResult) error { return e.fn(r) }
func (e *funcExpectation) Description() string       { return e.desc }

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains returns a matcher that checks if the string contains the substring.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals returns a matcher that checks exact string equality.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex returns a matcher that checks against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{re: regexp.MustCompile(pattern)}
}

type containsMatcher struct {
	substr string
}

func (m *containsMatcher) Match(s string) bool { return strings.Contains(s, m.substr) }
func (m *containsMatcher) Description() string { return fmt.Sprintf("contains %q", m.substr) }

type equalsMatcher struct {
	expected string
}

func (m *equalsMatcher) Match(s string) bool { return s == m.expected }
func (m *equalsMatcher) Description() string { return fmt.Sprintf("equals %q", m.expected) }

type regexMatcher struct {
	re *regexp.Regexp
}

func (m *regexMatcher) Match(s string) bool { return m.re.MatchString(s) }
func (m *regexMatcher) Description() string { return fmt.Sprintf("matches regex %q", m.re.String()) }
