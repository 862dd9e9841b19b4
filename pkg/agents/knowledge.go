// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/knowledge"
	"github.com/jllopis/deskpilot/pkg/llm"
	"github.com/jllopis/deskpilot/pkg/telemetry"
)

// KnowledgeFormat is the structured output name of knowledge replies.
const KnowledgeFormat = "knowledge_reply"

// KnowledgeResponder answers from an agent's private knowledge base.
type KnowledgeResponder struct {
	gen      llm.StructuredGenerator
	embedder llm.Embedder
	store    knowledge.Store
	backend  string
	topK     int
	context  ContextReader
	log      *slog.Logger
}

// KnowledgeOption configures a KnowledgeResponder.
type KnowledgeOption func(*KnowledgeResponder)

// WithTopK sets how many entries ground each reply.
func WithTopK(k int) KnowledgeOption {
	return func(r *KnowledgeResponder) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithBackend names the store in telemetry.
func WithBackend(name string) KnowledgeOption {
	return func(r *KnowledgeResponder) { r.backend = name }
}

// NewKnowledgeResponder creates a responder over store.
func NewKnowledgeResponder(gen llm.StructuredGenerator, embedder llm.Embedder, store knowledge.Store, ctxReader ContextReader, opts ...KnowledgeOption) *KnowledgeResponder {
	r := &KnowledgeResponder{
		gen:      gen,
		embedder: embedder,
		store:    store,
		backend:  "memory",
		topK:     knowledge.DefaultTopK,
		context:  ctxReader,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Process implements Processor. It embeds the whole conversation, retrieves
// the agent's closest entries and asks for a reply grounded in them. An
// embedding or search failure, or an empty knowledge base, gives an empty reply.
func (k *KnowledgeResponder) Process(ctx context.Context, st *conversation.State, agentID string) (Reply, error) {
	title, _ := st.AgentTitle(agentID)
	reply := Reply{AgentID: agentID, AgentTitle: title}
	span := trace.SpanFromContext(ctx)
	log := k.log.With(slog.String("agent_id", agentID))

	text := conversation.Joined(st.Messages)
	if text == "" {
		return reply, nil
	}
	vec, err := k.embedder.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		if err != nil {
			telemetry.Metrics().RecordError(ctx, err, "knowledge")
			log.WarnContext(ctx, "knowledge.embed.error", slog.String("error", err.Error()))
		}
		return reply, nil
	}

	matches, err := k.store.TopK(ctx, agentID, vec, k.topK)
	if err != nil {
		telemetry.Metrics().RecordError(ctx, err, "knowledge")
		log.WarnContext(ctx, "knowledge.search.error", slog.String("error", err.Error()))
		return reply, nil
	}
	var top float64
	if len(matches) > 0 {
		top = matches[0].Similarity
	}
	span.SetAttributes(telemetry.KnowledgeAttributes(k.backend, len(matches), top)...)
	telemetry.Metrics().RecordKnowledgeSearch(ctx, k.backend, len(matches))
	if len(matches) == 0 {
		log.InfoContext(ctx, "knowledge.search.empty")
		return reply, nil
	}

	latest, _ := st.LatestHumanMessage()
	var ans replyAnswer
	msgs := promptMessages(k.context.Recent(ctx, st), latest.Content)
	if err := k.gen.GenerateJSON(ctx, knowledgePrompt(title, matches), msgs, KnowledgeFormat, &ans); err != nil {
		telemetry.Metrics().RecordError(ctx, err, "knowledge")
		log.WarnContext(ctx, "knowledge.generate.error", slog.String("error", err.Error()))
		return reply, nil
	}
	reply.Content = strings.TrimSpace(ans.Response)
	return reply, nil
}

func knowledgePrompt(title string, matches []knowledge.Match) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "You are %q, a helpdesk agent.\n", title)
	} else {
		b.WriteString("You are a helpdesk agent.\n")
	}
	b.WriteString(`Answer the customer's latest message using only the knowledge below and the recent conversation. Match the tone and wording of the knowledge. If the knowledge does not cover the question, say you will check with the team instead of guessing.

Knowledge:
`)
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(m.Content))
	}
	return b.String()
}
