// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package agents implements the reply strategies invoked by the turn loop:
// the scheduling assistant, the greeter and knowledge agents.
package agents

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/memory"
	"github.com/jllopis/deskpilot/pkg/registry"
	"github.com/jllopis/deskpilot/pkg/telemetry"
)

// Titles attached to built-in replies.
const (
	SchedulerTitle = "Scheduling Assistant"
	GreeterTitle   = "Greeter"
)

// Kinds reported in telemetry.
const (
	KindScheduler = "scheduler"
	KindGreeter   = "greeter"
	KindKnowledge = "knowledge"
)

// DefaultContextWindow is how many prior messages the greeter and knowledge
// agents read.
const DefaultContextWindow = 3

// Reply is the message a processor produces. Content may be empty.
type Reply struct {
	Content    string
	AgentID    string
	AgentTitle string
}

// Message converts the reply into a log entry.
func (r Reply) Message() conversation.Message {
	return conversation.AgentMessage(r.Content, r.AgentID, r.AgentTitle)
}

// Processor produces exactly one reply per invocation and may mutate the
// state's params. Provider failures degrade to an empty reply; a returned
// error aborts the turn.
type Processor interface {
	Process(ctx context.Context, st *conversation.State, agentID string) (Reply, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, st *conversation.State, agentID string) (Reply, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, st *conversation.State, agentID string) (Reply, error) {
	return f(ctx, st, agentID)
}

// Dispatcher routes an agent id to its processor: the two built-in ids to
// their own strategies and every other id to Knowledge.
type Dispatcher struct {
	Scheduler Processor
	Greeter   Processor
	Knowledge Processor

	tracer trace.Tracer
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(scheduler, greeter, knowledge Processor) *Dispatcher {
	return &Dispatcher{
		Scheduler: scheduler,
		Greeter:   greeter,
		Knowledge: knowledge,
		tracer:    otel.Tracer("deskpilot/agents"),
	}
}

// Kind classifies agentID.
func Kind(agentID string) string {
	switch agentID {
	case registry.SchedulerID:
		return KindScheduler
	case registry.GreeterID:
		return KindGreeter
	}
	return KindKnowledge
}

// Process implements Processor.
func (d *Dispatcher) Process(ctx context.Context, st *conversation.State, agentID string) (Reply, error) {
	kind := Kind(agentID)
	var p Processor
	switch kind {
	case KindScheduler:
		p = d.Scheduler
	case KindGreeter:
		p = d.Greeter
	default:
		p = d.Knowledge
	}

	tracer := d.tracer
	if tracer == nil {
		tracer = otel.Tracer("deskpilot/agents")
	}
	ctx, span := tracer.Start(ctx, "agent.Process")
	defer span.End()
	start := time.Now()

	if p == nil {
		return Reply{AgentID: agentID, AgentTitle: titleFor(st, agentID)}, nil
	}
	reply, err := p.Process(ctx, st, agentID)
	span.SetAttributes(telemetry.AgentAttributes(agentID, reply.AgentTitle, kind)...)
	span.SetAttributes(attribute.Bool(telemetry.AttrAgentEmpty, reply.Content == ""))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reply, err
	}
	telemetry.Metrics().RecordAgentInvocation(ctx, kind, reply.Content == "")
	slog.DebugContext(ctx, "agent.process.done",
		slog.String("agent_id", agentID),
		slog.String("kind", kind),
		slog.Bool("empty_reply", reply.Content == ""),
		slog.Duration("duration", time.Since(start)),
	)
	return reply, nil
}

func titleFor(st *conversation.State, agentID string) string {
	switch agentID {
	case registry.SchedulerID:
		return SchedulerTitle
	case registry.GreeterID:
		return GreeterTitle
	}
	title, _ := st.AgentTitle(agentID)
	return title
}

// ContextReader returns the messages that precede the latest customer
// message, newest last. With a History store the thread history is read,
// otherwise the state's own log.
type ContextReader struct {
	History memory.ConversationMemory
	Window  int
	Log     *slog.Logger
}

// Recent returns up to Window prior messages.
func (c ContextReader) Recent(ctx context.Context, st *conversation.State) []conversation.Message {
	n := c.Window
	if n <= 0 {
		n = DefaultContextWindow
	}
	latest, hasLatest := st.LatestHumanMessage()

	if c.History != nil {
		hist, err := c.History.GetRecentMessages(ctx, st.Params.ThreadID, n+1)
		if err == nil && len(hist) > 0 {
			return lastN(exclude(conversation.FromHistory(hist), latest.ID, hasLatest), n)
		}
		if err != nil {
			log := c.Log
			if log == nil {
				log = slog.Default()
			}
			log.WarnContext(ctx, "agents.context.history_error", slog.String("error", err.Error()))
		}
	}
	return lastN(exclude(st.Messages, latest.ID, hasLatest), n)
}

func exclude(msgs []conversation.Message, id string, ok bool) []conversation.Message {
	if !ok {
		return msgs
	}
	out := make([]conversation.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

func lastN(msgs []conversation.Message, n int) []conversation.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// replyAnswer is the structured output of the greeter and knowledge agents.
type replyAnswer struct {
	Response string `json:"response" jsonschema:"description=The message to send to the customer"`
}
