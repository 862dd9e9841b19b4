// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/deskpilot/pkg/config"
)

// FileSource reads agents from a YAML file:
//
//	agents:
//	  - id: 7d1c...
//	    workspace_id: acme
//	    title: Billing
//	    description: Invoices, refunds and plan changes
//	    enabled: true
//	    allow_auto_reply: true
type FileSource struct {
	path string

	mu     sync.RWMutex
	agents []Descriptor
}

type fileDocument struct {
	Agents []Descriptor `yaml:"agents"`
}

// NewFileSource parses path once. A missing file is an error.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file. On error the previous agents are kept.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read agent registry: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse agent registry %s: %w", s.path, err)
	}
	for i, d := range doc.Agents {
		if d.ID == "" || d.WorkspaceID == "" {
			return fmt.Errorf("agent registry %s: entry %d needs id and workspace_id", s.path, i)
		}
	}
	s.mu.Lock()
	s.agents = doc.Agents
	s.mu.Unlock()
	return nil
}

// ListAgents implements Source.
func (s *FileSource) ListAgents(_ context.Context, workspaceID string) ([]Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Descriptor
	for _, d := range s.agents {
		if d.WorkspaceID == workspaceID {
			out = append(out, d)
		}
	}
	return out, nil
}

// Watch reloads the file whenever it changes until ctx is done. States that
// already cached their agents keep them; new conversations see the update.
func (s *FileSource) Watch(ctx context.Context) error {
	return config.WatchFile(ctx, s.path, 0, func() {
		if err := s.Reload(); err != nil {
			slog.Warn("registry.reload.error", slog.String("path", s.path), slog.String("error", err.Error()))
			return
		}
		slog.Info("registry.reload.done", slog.String("path", s.path))
	})
}
