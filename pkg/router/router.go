// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package router decides which agents answer an inbound message.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/llm"
	"github.com/jllopis/deskpilot/pkg/registry"
	"github.com/jllopis/deskpilot/pkg/telemetry"
)

// DefaultMaxHistory caps the messages sent with each routing request.
const DefaultMaxHistory = 50

// FormatName is the structured output name of routing requests.
const FormatName = "route"

// Selection is the structured routing answer. It also decodes a bare JSON
// array of ids.
type Selection struct {
	AgentIDs []string `json:"agentIds" jsonschema:"description=Agent identifiers to invoke in processing order"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Selection) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &s.AgentIDs)
	}
	type plain Selection
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Selection(p)
	return nil
}

// Router issues one structured generation call per turn.
type Router struct {
	gen        llm.StructuredGenerator
	maxHistory int
	log        *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Router.
type Option func(*Router)

// WithMaxHistory caps the history sent to the model; <= 0 keeps the default.
func WithMaxHistory(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxHistory = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// New creates a Router.
func New(gen llm.StructuredGenerator, opts ...Option) *Router {
	r := &Router{
		gen:        gen,
		maxHistory: DefaultMaxHistory,
		log:        slog.Default(),
		tracer:     otel.Tracer("deskpilot/router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route returns the agent ids to invoke this turn, in model order. Ids are
// de-duplicated and unknown ids dropped; an empty successful answer falls
// back to the greeter. A failed call yields an empty list.
func (r *Router) Route(ctx context.Context, st *conversation.State) []string {
	ctx, span := r.tracer.Start(ctx, "router.Route")
	defer span.End()

	known := map[string]bool{registry.SchedulerID: true, registry.GreeterID: true}
	for _, id := range st.Params.AgentIDs {
		known[id] = true
	}

	var sel Selection
	err := r.gen.GenerateJSON(ctx, systemPrompt(st.Params.Agents), r.messages(st), FormatName, &sel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.Metrics().RecordError(ctx, err, "router")
		r.log.WarnContext(ctx, "router.route.error", slog.String("error", err.Error()))
		span.SetAttributes(telemetry.RouterAttributes(len(known), nil, false)...)
		return []string{}
	}

	ids, dropped := normalize(sel.AgentIDs, known)
	fallback := len(ids) == 0
	if fallback {
		ids = []string{registry.GreeterID}
	}
	span.SetAttributes(telemetry.RouterAttributes(len(known), ids, fallback)...)
	r.log.DebugContext(ctx, "router.route.done",
		slog.Any("agent_ids", ids),
		slog.Any("dropped", dropped),
		slog.Bool("fallback", fallback),
	)
	return ids
}

func normalize(raw []string, known map[string]bool) (ids, dropped []string) {
	seen := make(map[string]bool, len(raw))
	ids = make([]string, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		seen[id] = true
		if !known[id] {
			dropped = append(dropped, id)
			continue
		}
		ids = append(ids, id)
	}
	return ids, dropped
}

func (r *Router) messages(st *conversation.State) []llm.Message {
	history := st.Tail(r.maxHistory)
	latest, _ := st.LatestHumanMessage()
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	if t := conversation.Transcript(history); t != "" {
		b.WriteString(t)
	} else {
		b.WriteString("(empty)")
	}
	b.WriteString("\n\nLatest customer message:\n")
	b.WriteString(latest.Content)
	return []llm.Message{{Role: llm.RoleUser, Content: b.String()}}
}

func systemPrompt(agents []registry.Descriptor) string {
	var b strings.Builder
	b.WriteString(`You route customer messages for a helpdesk. Decide which agents should answer the latest customer message.

Agents:
- id: "scheduler" - books meetings, product demos and calls. Choose it when the customer wants to schedule, reschedule or gives scheduling details such as dates, times or durations.
- id: "greeter" - greets the customer and handles small talk or anything no other agent covers.
`)
	for _, a := range agents {
		fmt.Fprintf(&b, "- id: %q - %s: %s\n", a.ID, a.Title, oneLine(a.Description))
	}
	b.WriteString(`
Rules:
- Include "scheduler" when the message concerns scheduling or demos.
- Include a knowledge agent's id when the message matches its description.
- Several ids may be returned when the message covers several intents; list them in the order they should answer.
- When nothing matches return ["greeter"].
Answer with JSON: {"agentIds": [...]}.`)
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
