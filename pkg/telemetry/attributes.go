// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span and metric attribute keys. gen_ai keys follow the OpenTelemetry
// semantic conventions for generative AI.
const (
	// Turn attributes
	AttrWorkspaceID  = "deskpilot.workspace.id"
	AttrThreadID     = "deskpilot.thread.id"
	AttrTurnStep     = "deskpilot.turn.step"
	AttrTurnPending  = "deskpilot.turn.pending_agents"
	AttrTurnReplies  = "deskpilot.turn.replies"
	AttrTurnMsgCount = "deskpilot.turn.message_count"
	AttrTurnOutcome  = "deskpilot.turn.outcome"

	// Agent attributes
	AttrAgentID    = "deskpilot.agent.id"
	AttrAgentTitle = "deskpilot.agent.title"
	AttrAgentKind  = "deskpilot.agent.kind" // "scheduler", "greeter", "knowledge"
	AttrAgentEmpty = "deskpilot.agent.empty_reply"

	// Router attributes
	AttrRouterCandidates = "deskpilot.router.candidates"
	AttrRouterSelected   = "deskpilot.router.selected"
	AttrRouterFallback   = "deskpilot.router.fallback"

	// Scheduling attributes
	AttrSchedulingStatus  = "deskpilot.scheduling.status"
	AttrSchedulingReady   = "deskpilot.scheduling.ready"
	AttrSchedulingCreated = "deskpilot.scheduling.event_created"

	// Knowledge attributes
	AttrKnowledgeMatches  = "deskpilot.knowledge.matches"
	AttrKnowledgeTopScore = "deskpilot.knowledge.top_score"
	AttrKnowledgeBackend  = "deskpilot.knowledge.backend"

	// LLM attributes
	AttrLLMOperation    = "gen_ai.operation.name"
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"

	AttrErrorCode = "error.code"
	AttrComponent = "component"
)

// TurnAttributes returns attributes for a turn span.
func TurnAttributes(workspaceID, threadID string, msgCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrWorkspaceID, workspaceID),
		attribute.String(AttrThreadID, threadID),
	}
	if msgCount > 0 {
		attrs = append(attrs, attribute.Int(AttrTurnMsgCount, msgCount))
	}
	return attrs
}

// StepAttributes describes one state machine step.
func StepAttributes(step string, pending int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTurnStep, step),
		attribute.Int(AttrTurnPending, pending),
	}
}

// AgentAttributes returns attributes for an agent invocation span.
func AgentAttributes(agentID, title, kind string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentID, agentID),
	}
	if title != "" {
		attrs = append(attrs, attribute.String(AttrAgentTitle, title))
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(AttrAgentKind, kind))
	}
	return attrs
}

// RouterAttributes returns attributes for a routing decision.
func RouterAttributes(candidates int, selected []string, fallback bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrRouterCandidates, candidates),
		attribute.Bool(AttrRouterFallback, fallback),
	}
	if len(selected) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrRouterSelected, selected))
	}
	return attrs
}

// SchedulingAttributes returns attributes for a scheduler step.
func SchedulingAttributes(status string, ready, created bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSchedulingStatus, status),
		attribute.Bool(AttrSchedulingReady, ready),
		attribute.Bool(AttrSchedulingCreated, created),
	}
}

// KnowledgeAttributes returns attributes for a similarity search.
func KnowledgeAttributes(backend string, matches int, topScore float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrKnowledgeMatches, matches),
	}
	if backend != "" {
		attrs = append(attrs, attribute.String(AttrKnowledgeBackend, backend))
	}
	if matches > 0 {
		attrs = append(attrs, attribute.Float64(AttrKnowledgeTopScore, topScore))
	}
	return attrs
}

// LLMAttributes returns attributes for a generation or embedding span.
func LLMAttributes(operation, model string, inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMOperation, operation),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	return attrs
}
