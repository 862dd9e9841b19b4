// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jllopis/deskpilot/pkg/agents"
	"github.com/jllopis/deskpilot/pkg/config"
	"github.com/jllopis/deskpilot/pkg/registry"
)

func runAgents(ctx context.Context, global globalFlags, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return NewInvalidArgumentError("agents", "expected list or add")
	}
	a := newApp(cfg, setupLogging(cfg))
	if err := a.init(ctx, a.buildRegistry); err != nil {
		return err
	}
	defer a.Close()

	switch args[0] {
	case "list":
		return listAgents(ctx, global, a.source, args[1:], out)
	case "add":
		src, ok := a.source.(*registry.SQLiteSource)
		if !ok {
			return NewInvalidArgumentError("agents add", "requires registry.provider=sqlite")
		}
		return addAgent(ctx, src, args[1:], out)
	default:
		return NewInvalidArgumentError("agents", fmt.Sprintf("unknown subcommand %q", args[0]))
	}
}

func listAgents(ctx context.Context, global globalFlags, src registry.Source, args []string, out io.Writer) error {
	cmd := flag.NewFlagSet("agents list", flag.ContinueOnError)
	cmd.SetOutput(out)
	workspace := cmd.String("workspace", "", "workspace id")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("agents list", err.Error())
	}
	if *workspace == "" {
		return NewInvalidArgumentError("--workspace", "workspace id is required")
	}
	list, err := src.ListAgents(ctx, *workspace)
	if err != nil {
		return err
	}
	if global.JSON {
		printJSON(list)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tENABLED\tAUTO REPLY\tROUTABLE")
	fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%t\n", registry.SchedulerID, agents.SchedulerTitle, true, true, true)
	fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%t\n", registry.GreeterID, agents.GreeterTitle, true, true, true)
	for _, d := range list {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%t\n", d.ID, d.Title, d.Enabled, d.AllowAutoReply, d.Eligible())
	}
	return w.Flush()
}

func addAgent(ctx context.Context, src *registry.SQLiteSource, args []string, out io.Writer) error {
	cmd := flag.NewFlagSet("agents add", flag.ContinueOnError)
	cmd.SetOutput(out)
	var d registry.Descriptor
	cmd.StringVar(&d.WorkspaceID, "workspace", "", "workspace id")
	cmd.StringVar(&d.ID, "id", "", "agent id")
	cmd.StringVar(&d.Title, "title", "", "agent title")
	cmd.StringVar(&d.Description, "description", "", "what the agent answers, shown to the router")
	disabled := cmd.Bool("disabled", false, "store the agent disabled")
	noAuto := cmd.Bool("no-auto-reply", false, "never route customers to the agent")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("agents add", err.Error())
	}
	if d.WorkspaceID == "" || d.ID == "" || d.Title == "" {
		return NewInvalidArgumentError("agents add", "--workspace, --id and --title are required")
	}
	if registry.IsBuiltin(d.ID) {
		return NewInvalidArgumentError("--id", fmt.Sprintf("%q is reserved for a built-in agent", d.ID))
	}
	d.Enabled = !*disabled
	d.AllowAutoReply = !*noAuto
	if err := src.Put(ctx, d); err != nil {
		return err
	}
	fmt.Fprintf(out, "stored agent %s in workspace %s\n", d.ID, d.WorkspaceID)
	return nil
}
