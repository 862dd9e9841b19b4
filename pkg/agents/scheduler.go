// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/deskpilot/pkg/calendar"
	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/llm"
	"github.com/jllopis/deskpilot/pkg/registry"
	"github.com/jllopis/deskpilot/pkg/telemetry"
)

// SchedulingFormat is the structured output name of extraction requests.
const SchedulingFormat = "scheduling"

// DefaultSchedulerHistory caps the messages sent to the extractor.
const DefaultSchedulerHistory = 50

// schedulingAnswer is the extraction result: the full draft re-derived from
// the conversation plus the text to show the customer.
type schedulingAnswer struct {
	Title       string `json:"title" jsonschema:"description=Short meeting title or empty if unknown"`
	Description string `json:"description" jsonschema:"description=What the meeting is about or empty if unknown"`
	StartTime   string `json:"startTime" jsonschema:"description=RFC 3339 start time or empty if unknown"`
	EndTime     string `json:"endTime" jsonschema:"description=RFC 3339 end time or empty if unknown"`
	Duration    string `json:"duration" jsonschema:"description=Meeting length such as 30m or empty if unknown"`
	Response    string `json:"response" jsonschema:"description=Confirmation or a question asking for the missing details"`
}

func (a schedulingAnswer) draft() conversation.Draft {
	return conversation.Draft{
		Title:       strings.TrimSpace(a.Title),
		Description: strings.TrimSpace(a.Description),
		StartTime:   strings.TrimSpace(a.StartTime),
		EndTime:     strings.TrimSpace(a.EndTime),
		Duration:    strings.TrimSpace(a.Duration),
	}
}

// Scheduler slot-fills a calendar event over several turns and books it once
// every field is known.
type Scheduler struct {
	gen        llm.StructuredGenerator
	calendar   calendar.Creator
	maxHistory int
	now        func() time.Time
	log        *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerHistory caps the history sent to the extractor.
func WithSchedulerHistory(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithClock overrides the clock used to resolve relative dates.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

// NewScheduler creates a Scheduler. cal receives at most one CreateEvent per
// completed draft.
func NewScheduler(gen llm.StructuredGenerator, cal calendar.Creator, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		gen:        gen,
		calendar:   cal,
		maxHistory: DefaultSchedulerHistory,
		now:        time.Now,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process implements Processor.
//
// While the draft is pending it is replaced by the extraction result and,
// when ready, the event is created and the status set to completed. A
// completed draft is never modified again and never re-booked. Extraction
// failures leave the draft untouched and produce an empty reply.
func (s *Scheduler) Process(ctx context.Context, st *conversation.State, _ string) (Reply, error) {
	reply := Reply{AgentID: registry.SchedulerID, AgentTitle: SchedulerTitle}
	span := trace.SpanFromContext(ctx)
	params := &st.Params

	var ans schedulingAnswer
	msgs := conversation.LLMMessages(st.Tail(s.maxHistory))
	if err := s.gen.GenerateJSON(ctx, s.systemPrompt(params), msgs, SchedulingFormat, &ans); err != nil {
		telemetry.Metrics().RecordError(ctx, err, "scheduler")
		s.log.WarnContext(ctx, "scheduler.extract.error", slog.String("error", err.Error()))
		span.SetAttributes(telemetry.SchedulingAttributes(string(params.SchedulingStatus), params.Scheduling.Ready(), false)...)
		return reply, nil
	}
	reply.Content = strings.TrimSpace(ans.Response)

	if params.SchedulingStatus == conversation.SchedulingCompleted {
		span.SetAttributes(telemetry.SchedulingAttributes(string(params.SchedulingStatus), true, false)...)
		return reply, nil
	}

	draft := ans.draft()
	params.Scheduling = draft
	if !draft.Ready() {
		if reply.Content == "" {
			reply.Content = askFor(draft.Missing())
		}
		span.SetAttributes(telemetry.SchedulingAttributes(string(params.SchedulingStatus), false, false)...)
		return reply, nil
	}

	created := s.book(ctx, params)
	span.SetAttributes(telemetry.SchedulingAttributes(string(params.SchedulingStatus), true, created)...)
	return reply, nil
}

// book creates the event for a ready draft. Failures are logged and leave the
// status pending so a later turn retries.
func (s *Scheduler) book(ctx context.Context, params *conversation.AgentParams) bool {
	d := params.Scheduling
	ev, err := calendar.NewEvent(d.Title, d.Description, d.StartTime, d.EndTime, d.Duration)
	if err == nil {
		err = s.calendar.CreateEvent(ctx, ev, params.WorkspaceID)
	}
	telemetry.Metrics().RecordCalendarEvent(ctx, err == nil)
	if err != nil {
		telemetry.Metrics().RecordError(ctx, err, "calendar")
		s.log.ErrorContext(ctx, "scheduler.calendar.error",
			slog.String("title", d.Title),
			slog.String("start", d.StartTime),
			slog.String("error", err.Error()),
		)
		return false
	}
	params.SchedulingStatus = conversation.SchedulingCompleted
	s.log.InfoContext(ctx, "scheduler.event.created",
		slog.String("title", d.Title),
		slog.Time("start", ev.Start),
		slog.Time("end", ev.End),
	)
	return true
}

func (s *Scheduler) systemPrompt(params *conversation.AgentParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the scheduling assistant of a helpdesk. The current time is %s.\n\n", s.now().Format(time.RFC3339))
	b.WriteString(`Read the whole conversation and extract the meeting the customer wants to book:
- title: a short name for the meeting
- description: what the meeting is about
- startTime and endTime: RFC 3339 timestamps, resolving relative dates against the current time
- duration: the meeting length, for example "30m"
Leave a field empty when the customer has not given enough information for it. Derive endTime from startTime and duration when both are known.

In "response" write the message for the customer: if a field is missing ask for it politely, otherwise confirm the booking with its date and time.`)
	if params.SchedulingStatus == conversation.SchedulingCompleted {
		d := params.Scheduling
		fmt.Fprintf(&b, "\n\nThe meeting %q starting %s is already booked. Do not book it again; answer the customer's follow-up about it.", d.Title, d.StartTime)
	}
	return b.String()
}

var fieldQuestions = map[string]string{
	"title":       "a title for the meeting",
	"description": "what you would like to discuss",
	"startTime":   "when it should start",
	"endTime":     "when it should end",
	"duration":    "how long it should last",
}

func askFor(missing []string) string {
	if len(missing) == 0 {
		return ""
	}
	parts := make([]string, 0, len(missing))
	for _, m := range missing {
		parts = append(parts, fieldQuestions[m])
	}
	if len(parts) == 1 {
		return "Could you tell me " + parts[0] + "?"
	}
	return "Could you tell me " + strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1] + "?"
}
