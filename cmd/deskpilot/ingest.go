// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/jllopis/deskpilot/pkg/config"
	"github.com/jllopis/deskpilot/pkg/knowledge"
)

// runIngest embeds a document file into the knowledge of one agent.
func runIngest(ctx context.Context, global globalFlags, cfg *config.Config, args []string, out io.Writer) error {
	cmd := flag.NewFlagSet("ingest", flag.ContinueOnError)
	cmd.SetOutput(out)
	agentID := cmd.String("agent", "", "agent id")
	path := cmd.String("file", "", "YAML list or JSONL file of {id, content} documents")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("ingest", err.Error())
	}
	if strings.TrimSpace(*agentID) == "" {
		return NewInvalidArgumentError("--agent", "agent id is required")
	}
	if *path == "" {
		return NewInvalidArgumentError("--file", "document file is required")
	}

	docs, err := knowledge.LoadDocuments(*path)
	if err != nil {
		return NewInvalidArgumentError("--file", err.Error())
	}

	log := setupLogging(cfg)
	a := newApp(cfg, log)
	if err := a.init(ctx, a.buildLLM, a.buildKnowledge); err != nil {
		return err
	}
	defer a.Close()
	if cfg.Knowledge.Provider == "memory" {
		log.Warn("ingest.memory_store", "hint", "knowledge.provider=memory does not outlive this command")
	}

	n, err := knowledge.NewIngestor(a.store, a.client).Ingest(ctx, *agentID, docs)
	if err != nil {
		return err
	}
	if global.JSON {
		printJSON(map[string]any{"agent_id": *agentID, "entries": n, "backend": cfg.Knowledge.Provider})
		return nil
	}
	fmt.Fprintf(out, "ingested %d entries for agent %s into %s\n", n, *agentID, cfg.Knowledge.Provider)
	return nil
}
