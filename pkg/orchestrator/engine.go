// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator drives one inbound message through routing and agent
// processing, and serializes turns per thread.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/deskpilot/pkg/agents"
	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/core"
	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/registry"
	"github.com/jllopis/deskpilot/pkg/telemetry"
)

// Step is a state of the turn loop.
type Step string

const (
	StepRoute        Step = "route"
	StepProcessAgent Step = "process_agent"
	StepDone         Step = "done"
)

// AgentLoader resolves a workspace's knowledge agents. *registry.Registry
// implements it.
type AgentLoader interface {
	LoadAgents(ctx context.Context, workspaceID string) []registry.Descriptor
}

// Router selects the agents of a turn. *router.Router implements it.
type Router interface {
	Route(ctx context.Context, st *conversation.State) []string
}

// TurnReport describes a completed turn. AgentIDs and AgentTitles are the
// queue and audit titles as they were before the DONE reset.
type TurnReport struct {
	TurnID      string
	State       *conversation.State
	Inbound     conversation.Message
	Replies     []conversation.Message
	AgentIDs    []string
	AgentTitles []string
	Duration    time.Duration
}

// Engine runs the ROUTE, PROCESS_AGENT and DONE steps of a turn. It holds no
// per-thread state and is safe for concurrent use on different threads.
type Engine struct {
	loader    AgentLoader
	router    Router
	processor agents.Processor
	log       *slog.Logger
	tracer    trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewEngine builds an Engine. processor is usually an *agents.Dispatcher.
func NewEngine(loader AgentLoader, router Router, processor agents.Processor, opts ...EngineOption) *Engine {
	e := &Engine{
		loader:    loader,
		router:    router,
		processor: processor,
		log:       slog.Default(),
		tracer:    otel.Tracer("deskpilot/orchestrator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunTurn processes text on thread and returns the new state. prev is not
// modified; nil starts a new conversation.
func (e *Engine) RunTurn(ctx context.Context, workspaceID, threadID, text string, prev *conversation.State) (*conversation.State, error) {
	report, err := e.Run(ctx, workspaceID, threadID, conversation.HumanMessage(text), prev)
	if err != nil {
		return nil, err
	}
	return report.State, nil
}

// Run is RunTurn with a caller-built inbound message, so the caller can
// persist the same message id elsewhere.
func (e *Engine) Run(ctx context.Context, workspaceID, threadID string, inbound conversation.Message, prev *conversation.State) (*TurnReport, error) {
	start := time.Now()
	ctx = telemetry.WithTurn(ctx, workspaceID, threadID)
	ctx, turnID := core.EnsureTurnID(ctx)
	ctx, span := e.tracer.Start(ctx, "orchestrator.Turn")
	defer span.End()
	log := e.log.With(slog.String("turn_id", turnID))

	report, err := e.run(ctx, span, log, workspaceID, threadID, inbound, prev)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.Metrics().RecordTurn(ctx, "error", elapsed)
		telemetry.Metrics().RecordError(ctx, err, "orchestrator")
		log.ErrorContext(ctx, "turn.error", slog.String("error", err.Error()))
		return nil, err
	}
	report.TurnID = turnID
	report.Duration = elapsed
	span.SetAttributes(attribute.Int(telemetry.AttrTurnReplies, len(report.Replies)))
	telemetry.Metrics().RecordTurn(ctx, "ok", elapsed)
	log.InfoContext(ctx, "turn.done",
		slog.Any("agent_ids", report.AgentIDs),
		slog.Int("replies", len(report.Replies)),
		slog.Int("messages", len(report.State.Messages)),
		slog.Duration("duration", elapsed),
	)
	return report, nil
}

func (e *Engine) run(ctx context.Context, span trace.Span, log *slog.Logger, workspaceID, threadID string, inbound conversation.Message, prev *conversation.State) (*TurnReport, error) {
	st := prev.Clone()
	if st == nil {
		st = conversation.New(workspaceID, threadID)
	}
	if st.Params.WorkspaceID != workspaceID || st.Params.ThreadID != threadID {
		return nil, errors.New(errors.CodeState, "state belongs to another conversation", nil).
			WithContext("state_workspace_id", st.Params.WorkspaceID).
			WithContext("state_thread_id", st.Params.ThreadID).
			WithRecoverable(false)
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(telemetry.TurnAttributes(workspaceID, threadID, len(st.Messages))...)

	if inbound.Role == "" {
		inbound.Role = conversation.RoleHuman
	}
	st.Append(inbound)

	if !st.Params.AgentsLoaded {
		loaded := e.loader.LoadAgents(ctx, workspaceID)
		st.Params.Agents = loaded
		st.Params.AgentIDs = make([]string, 0, len(loaded))
		for _, a := range loaded {
			st.Params.AgentIDs = append(st.Params.AgentIDs, a.ID)
		}
		st.Params.AgentsLoaded = true
		log.DebugContext(ctx, "turn.agents.loaded", slog.Int("agents", len(loaded)))
	}

	// ROUTE
	pending := e.router.Route(ctx, st)
	if pending == nil {
		pending = []string{}
	}
	st.Params.PendingAgentIDs = pending
	st.Params.SelectedAgentIDIndex = 0
	st.Params.SelectedAgentTitles = []string{}
	span.AddEvent("turn.step", trace.WithAttributes(telemetry.StepAttributes(string(StepRoute), len(pending))...))

	// PROCESS_AGENT
	report := &TurnReport{Inbound: inbound, AgentIDs: append([]string(nil), pending...)}
	for st.Params.SelectedAgentIDIndex < len(st.Params.PendingAgentIDs) {
		agentID := st.Params.PendingAgentIDs[st.Params.SelectedAgentIDIndex]
		reply, err := e.processor.Process(ctx, st, agentID)
		if err != nil {
			return nil, fmt.Errorf("process agent %s: %w", agentID, err)
		}
		if reply.AgentID == "" {
			reply.AgentID = agentID
		}
		msg := reply.Message()
		st.Append(msg)
		st.Params.SelectedAgentTitles = append(st.Params.SelectedAgentTitles, reply.AgentTitle)
		st.Params.SelectedAgentIDIndex++
		report.Replies = append(report.Replies, msg)
		span.AddEvent("turn.step", trace.WithAttributes(
			telemetry.StepAttributes(string(StepProcessAgent), len(pending)-st.Params.SelectedAgentIDIndex)...))
	}

	// DONE
	report.AgentTitles = append([]string(nil), st.Params.SelectedAgentTitles...)
	st.ResetTurn()
	span.AddEvent("turn.step", trace.WithAttributes(telemetry.StepAttributes(string(StepDone), 0)...))
	report.State = st
	return report, nil
}
