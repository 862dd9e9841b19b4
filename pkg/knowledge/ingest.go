// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Document is raw knowledge before embedding.
type Document struct {
	ID      string `json:"id" yaml:"id"`
	Content string `json:"content" yaml:"content"`
}

// Ingestor embeds documents and writes them to a Store.
type Ingestor struct {
	store    Store
	embedder Embedder
	log      *slog.Logger
}

// NewIngestor builds an Ingestor.
func NewIngestor(store Store, embedder Embedder) *Ingestor {
	return &Ingestor{store: store, embedder: embedder, log: slog.Default()}
}

// Ingest embeds docs for agentID and upserts them in one batch. Blank
// documents are skipped. It returns the number of entries written.
func (i *Ingestor) Ingest(ctx context.Context, agentID string, docs []Document) (int, error) {
	if agentID == "" {
		return 0, fmt.Errorf("agent id is required")
	}
	entries := make([]Entry, 0, len(docs))
	for _, d := range docs {
		content := strings.TrimSpace(d.Content)
		if content == "" {
			continue
		}
		vec, err := i.embedder.Embed(ctx, content)
		if err != nil {
			return 0, fmt.Errorf("embed document %q: %w", d.ID, err)
		}
		entries = append(entries, Entry{ID: d.ID, AgentID: agentID, Content: content, Embedding: vec})
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := i.store.Upsert(ctx, entries); err != nil {
		return 0, err
	}
	i.log.InfoContext(ctx, "knowledge.ingest.done",
		slog.String("agent_id", agentID),
		slog.Int("entries", len(entries)),
	)
	return len(entries), nil
}

// LoadDocuments reads a YAML list of documents or a JSONL file (.jsonl),
// one document per line.
func LoadDocuments(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return parseJSONL(data)
	}
	var docs []Document
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return docs, nil
}

func parseJSONL(data []byte) ([]Document, error) {
	var docs []Document
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var d Document
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, d)
	}
	return docs, sc.Err()
}
