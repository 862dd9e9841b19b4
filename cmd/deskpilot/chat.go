// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/jllopis/deskpilot/pkg/config"
	"github.com/jllopis/deskpilot/pkg/telemetry"
)

// runChat reads customer messages from in, one per line, and prints the
// replies of each turn to out. /state prints the scheduling draft, /history
// the stored thread history and /quit ends the session.
func runChat(ctx context.Context, cfg *config.Config, args []string, in io.Reader, out io.Writer) error {
	cmd := flag.NewFlagSet("chat", flag.ContinueOnError)
	cmd.SetOutput(out)
	workspace := cmd.String("workspace", "", "workspace id")
	thread := cmd.String("thread", "", "thread id (default: random)")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("chat", err.Error())
	}
	if strings.TrimSpace(*workspace) == "" {
		return NewInvalidArgumentError("--workspace", "workspace id is required")
	}
	if *thread == "" {
		*thread = "cli-" + uuid.NewString()
	}

	// Logs go to stderr below warn so they do not interleave with replies.
	log := telemetry.NewLogger(errWriter, "warn", cfg.Log.Format)
	a := newApp(cfg, log)
	if err := a.initAll(ctx); err != nil {
		return err
	}
	defer a.Close()
	svc := a.service(nil)

	fmt.Fprintf(out, "thread %s (workspace %s). /quit to exit.\n", *thread, *workspace)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/state":
			st, err := svc.State(ctx, *workspace, *thread)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			d := st.Params.Scheduling
			fmt.Fprintf(out, "messages=%d scheduling=%s title=%q start=%q end=%q duration=%q\n",
				len(st.Messages), st.Params.SchedulingStatus, d.Title, d.StartTime, d.EndTime, d.Duration)
			continue
		case "/history":
			msgs, err := a.history.GetMessages(ctx, *thread)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
			}
			continue
		}

		report, err := svc.HandleMessage(ctx, *workspace, *thread, text)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		for _, m := range report.Replies {
			if m.Content == "" {
				continue
			}
			title := ""
			if m.Metadata != nil {
				title = m.Metadata.AgentTitle
			}
			fmt.Fprintf(out, "[%s] %s\n", title, m.Content)
		}
	}
}
