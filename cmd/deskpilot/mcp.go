// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"

	"github.com/jllopis/deskpilot/pkg/config"
	"github.com/jllopis/deskpilot/pkg/mcp"
	"github.com/jllopis/deskpilot/pkg/telemetry"
)

// runMCP serves the send_message and get_thread tools over stdio. Stdout
// carries the protocol, so logs go to errWriter.
func runMCP(ctx context.Context, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("mcp", flag.ContinueOnError)
	cmd.SetOutput(errWriter)
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("mcp", err.Error())
	}

	log := telemetry.NewLogger(errWriter, cfg.Log.Level, cfg.Log.Format)
	a := newApp(cfg, log)
	if err := a.initAll(ctx); err != nil {
		return err
	}
	defer a.Close()

	log.Info("mcp.serve", "backends", a.String())
	srv := mcp.NewServer(a.service(nil), version)
	return srv.ServeStdio()
}
