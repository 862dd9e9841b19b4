// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"sync"

	"github.com/jllopis/deskpilot/pkg/calendar"
)

// StaticEmbedder maps known texts to fixed vectors. Unknown texts get
// Default, or an error when Err is set.
type StaticEmbedder struct {
	mu      sync.Mutex
	Vectors map[string][]float32
	Default []float32
	Err     error
	calls   []string
}

// Embed implements llm.Embedder.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, text)
	if e.Err != nil {
		return nil, e.Err
	}
	if v, ok := e.Vectors[text]; ok {
		return v, nil
	}
	return e.Default, nil
}

// Calls returns the texts embedded so far.
func (e *StaticEmbedder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// RecordingCalendar records every CreateEvent call. When Err is set the call
// is recorded and the error returned.
type RecordingCalendar struct {
	mu     sync.Mutex
	Err    error
	events []RecordedEvent
}

// RecordedEvent is one CreateEvent call.
type RecordedEvent struct {
	WorkspaceID string
	Event       calendar.Event
}

// CreateEvent implements calendar.Creator.
func (c *RecordingCalendar) CreateEvent(_ context.Context, ev calendar.Event, workspaceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, RecordedEvent{WorkspaceID: workspaceID, Event: ev})
	return c.Err
}

// Events returns the recorded calls.
func (c *RecordingCalendar) Events() []RecordedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RecordedEvent(nil), c.events...)
}

// Count returns the number of CreateEvent calls.
func (c *RecordingCalendar) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// SetErr changes the error returned by later calls.
func (c *RecordingCalendar) SetErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Err = err
}
