// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Command deskpilot runs the helpdesk agent orchestrator.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jllopis/deskpilot/pkg/config"
)

var version = "dev"

var errWriter io.Writer = os.Stderr

type globalFlags struct {
	ConfigArgs []string
	ConfigPath string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "help":
		printUsage()
		return
	case "version":
		printVersion()
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		exitWithError(WrapConfigError(err, global.ConfigPath), global.JSON)
	}

	switch cmd := args[0]; cmd {
	case "serve":
		err = runServe(ctx, global, cfg, args[1:])
	case "chat":
		err = runChat(ctx, cfg, args[1:], os.Stdin, os.Stdout)
	case "ingest":
		err = runIngest(ctx, global, cfg, args[1:], os.Stdout)
	case "agents":
		err = runAgents(ctx, global, cfg, args[1:], os.Stdout)
	case "mcp":
		err = runMCP(ctx, cfg, args[1:])
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		exitWithError(err, global.JSON)
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--set":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --set")
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--set="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func printVersion() {
	fmt.Println(version)
}

func printUsage() {
	fmt.Println(`deskpilot - helpdesk agent orchestrator

Usage:
  deskpilot [global flags] <command> [args]

Global flags:
  --config <path>      Path to config.yaml
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  serve [--addr :8080] [--watch]
  chat --workspace <id> [--thread <id>]
  ingest --agent <id> --file <docs.yaml|docs.jsonl>
  agents list --workspace <id>
  agents add --workspace <id> --id <id> --title <title> [--description <text>] [--disabled] [--no-auto-reply]
  mcp                  Serve send_message and get_thread as MCP tools on stdio
  version

Environment:
  DESKPILOT_<SECTION>_<KEY> overrides config, e.g. DESKPILOT_LLM_MODEL=gpt-4o-mini`)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}
