// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/deskpilot/pkg/errors"
)

// DeskMetrics holds the counters and histograms recorded by the turn pipeline.
// A nil *DeskMetrics is valid and records nothing.
type DeskMetrics struct {
	turnCounter      metric.Int64Counter
	turnDuration     metric.Float64Histogram
	agentCounter     metric.Int64Counter
	llmFailures      metric.Int64Counter
	calendarCounter  metric.Int64Counter
	errorCounter     metric.Int64Counter
	knowledgeMatches metric.Int64Histogram
}

var (
	globalMetrics *DeskMetrics
	metricsOnce   sync.Once
)

// Metrics returns the process-wide metrics bound to the global meter provider.
// Instruments created before InitWithConfig are forwarded once it runs.
func Metrics() *DeskMetrics {
	metricsOnce.Do(func() {
		m, err := NewDeskMetrics(otel.Meter("deskpilot"))
		if err != nil {
			slog.Warn("telemetry.metrics.init_failed", slog.String("error", err.Error()))
			return
		}
		globalMetrics = m
	})
	return globalMetrics
}

// NewDeskMetrics creates the instruments on meter.
func NewDeskMetrics(meter metric.Meter) (*DeskMetrics, error) {
	m := &DeskMetrics{}
	var err error
	if m.turnCounter, err = meter.Int64Counter(
		"deskpilot.turns.total",
		metric.WithDescription("Completed turns by outcome"),
	); err != nil {
		return nil, err
	}
	if m.turnDuration, err = meter.Float64Histogram(
		"deskpilot.turns.duration",
		metric.WithDescription("Turn wall time"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.agentCounter, err = meter.Int64Counter(
		"deskpilot.agents.invocations",
		metric.WithDescription("Agent invocations by agent kind and reply emptiness"),
	); err != nil {
		return nil, err
	}
	if m.llmFailures, err = meter.Int64Counter(
		"deskpilot.llm.failures",
		metric.WithDescription("Failed generation and embedding calls by operation"),
	); err != nil {
		return nil, err
	}
	if m.calendarCounter, err = meter.Int64Counter(
		"deskpilot.calendar.events",
		metric.WithDescription("Calendar event creation attempts by result"),
	); err != nil {
		return nil, err
	}
	if m.errorCounter, err = meter.Int64Counter(
		"deskpilot.errors.total",
		metric.WithDescription("Errors by code and component"),
	); err != nil {
		return nil, err
	}
	if m.knowledgeMatches, err = meter.Int64Histogram(
		"deskpilot.knowledge.matches",
		metric.WithDescription("Knowledge entries returned per search"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordTurn records a finished turn. outcome is "ok" or "error".
func (m *DeskMetrics) RecordTurn(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrTurnOutcome, outcome),
	)
	m.turnCounter.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordAgentInvocation counts one processor call.
func (m *DeskMetrics) RecordAgentInvocation(ctx context.Context, kind string, emptyReply bool) {
	if m == nil {
		return
	}
	m.agentCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAgentKind, kind),
		attribute.Bool(AttrAgentEmpty, emptyReply),
	))
}

// RecordLLMFailure counts a failed model call.
func (m *DeskMetrics) RecordLLMFailure(ctx context.Context, operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.llmFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrLLMOperation, operation),
		attribute.String(AttrErrorCode, string(errors.As(err).Code)),
	))
}

// RecordCalendarEvent counts a calendar creation attempt.
func (m *DeskMetrics) RecordCalendarEvent(ctx context.Context, created bool) {
	if m == nil {
		return
	}
	result := "created"
	if !created {
		result = "failed"
	}
	m.calendarCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordKnowledgeSearch records how many entries a search returned.
func (m *DeskMetrics) RecordKnowledgeSearch(ctx context.Context, backend string, matches int) {
	if m == nil {
		return
	}
	m.knowledgeMatches.Record(ctx, int64(matches), metric.WithAttributes(
		attribute.String(AttrKnowledgeBackend, backend),
	))
}

// RecordError counts err under component. Nil errors are ignored.
func (m *DeskMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	de := errors.As(err)
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(de.Code)),
		attribute.String(AttrComponent, component),
		attribute.Bool("recoverable", de.Recoverable),
	))
}
