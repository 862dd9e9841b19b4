// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package agents

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/llm"
	"github.com/jllopis/deskpilot/pkg/registry"
	"github.com/jllopis/deskpilot/pkg/telemetry"
)

// GreetingFormat is the structured output name of greeter requests.
const GreetingFormat = "greeting"

const greeterPrompt = `You are the friendly first responder of a helpdesk.
Write a short, warm reply to the customer's latest message. Keep the tone of the recent conversation and do not repeat a greeting the customer has already received. If the customer asks for something specific, say that a teammate will follow up.`

// Greeter answers when no specific intent matched.
type Greeter struct {
	gen     llm.StructuredGenerator
	context ContextReader
	log     *slog.Logger
}

// NewGreeter creates a Greeter reading prior context through ctxReader.
func NewGreeter(gen llm.StructuredGenerator, ctxReader ContextReader) *Greeter {
	return &Greeter{gen: gen, context: ctxReader, log: slog.Default()}
}

// Process implements Processor. It does not touch the state.
func (g *Greeter) Process(ctx context.Context, st *conversation.State, _ string) (Reply, error) {
	reply := Reply{AgentID: registry.GreeterID, AgentTitle: GreeterTitle}
	latest, _ := st.LatestHumanMessage()

	var ans replyAnswer
	msgs := promptMessages(g.context.Recent(ctx, st), latest.Content)
	if err := g.gen.GenerateJSON(ctx, greeterPrompt, msgs, GreetingFormat, &ans); err != nil {
		telemetry.Metrics().RecordError(ctx, err, "greeter")
		g.log.WarnContext(ctx, "greeter.generate.error", slog.String("error", err.Error()))
		return reply, nil
	}
	reply.Content = strings.TrimSpace(ans.Response)
	return reply, nil
}

// promptMessages renders recent context and the latest customer message as
// one user turn.
func promptMessages(recent []conversation.Message, latest string) []llm.Message {
	var b strings.Builder
	if t := conversation.Transcript(recent); t != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(t)
		b.WriteString("\n\n")
	}
	b.WriteString("Customer message:\n")
	b.WriteString(latest)
	return []llm.Message{{Role: llm.RoleUser, Content: b.String()}}
}
