// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry resolves the knowledge agents a workspace has enabled for
// auto-reply.
package registry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jllopis/deskpilot/pkg/telemetry"
)

// Built-in agent ids. Every other id is a knowledge agent UUID.
const (
	SchedulerID = "scheduler"
	GreeterID   = "greeter"
)

// IsBuiltin reports whether id names a built-in agent.
func IsBuiltin(id string) bool {
	return id == SchedulerID || id == GreeterID
}

// Descriptor describes a workspace-defined knowledge agent.
type Descriptor struct {
	ID             string `json:"id" yaml:"id"`
	WorkspaceID    string `json:"workspaceId,omitempty" yaml:"workspace_id"`
	Title          string `json:"title" yaml:"title"`
	Description    string `json:"description" yaml:"description"`
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	AllowAutoReply bool   `json:"allowAutoReply" yaml:"allow_auto_reply"`
}

// Eligible reports whether the agent may answer customers automatically.
func (d Descriptor) Eligible() bool {
	return d.Enabled && d.AllowAutoReply
}

// Source lists the agents defined for a workspace.
type Source interface {
	ListAgents(ctx context.Context, workspaceID string) ([]Descriptor, error)
}

// Registry filters a Source down to auto-reply agents.
type Registry struct {
	source Source
	log    *slog.Logger
}

// New builds a Registry over source.
func New(source Source) *Registry {
	return &Registry{source: source, log: slog.Default()}
}

// LoadAgents returns the enabled, auto-reply agents of workspaceID in source
// order. Lookup failures are logged and yield an empty list.
func (r *Registry) LoadAgents(ctx context.Context, workspaceID string) []Descriptor {
	ctx, span := otel.Tracer("deskpilot/registry").Start(ctx, "registry.LoadAgents")
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrWorkspaceID, workspaceID))

	all, err := r.source.ListAgents(ctx, workspaceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.Metrics().RecordError(ctx, err, "registry")
		r.log.ErrorContext(ctx, "registry.load.error",
			slog.String("workspace_id", workspaceID),
			slog.String("error", err.Error()),
		)
		return []Descriptor{}
	}

	out := make([]Descriptor, 0, len(all))
	for _, d := range all {
		if d.Eligible() && d.ID != "" {
			out = append(out, d)
		}
	}
	r.log.DebugContext(ctx, "registry.load.done",
		slog.String("workspace_id", workspaceID),
		slog.Int("agents", len(out)),
	)
	return out
}

// StaticSource serves a fixed agent list keyed by workspace id.
type StaticSource map[string][]Descriptor

// ListAgents implements Source.
func (s StaticSource) ListAgents(_ context.Context, workspaceID string) ([]Descriptor, error) {
	return append([]Descriptor(nil), s[workspaceID]...), nil
}
