// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/jllopis/deskpilot/pkg/config"
	"github.com/jllopis/deskpilot/pkg/core"
	"github.com/jllopis/deskpilot/pkg/registry"
	"github.com/jllopis/deskpilot/pkg/telemetry"
	"github.com/jllopis/deskpilot/pkg/transport/httpapi"
)

func setupLogging(cfg *config.Config) *slog.Logger {
	return telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}

func runServe(ctx context.Context, global globalFlags, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := cmd.String("addr", cfg.Server.Addr, "listen address")
	watch := cmd.Bool("watch", false, "reload the log level when the config file changes")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("serve", err.Error())
	}

	log := setupLogging(cfg)
	shutdown, err := telemetry.InitWithConfig("deskpilot", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return WrapBackendError(err, "telemetry", cfg.Telemetry.OTLPEndpoint)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(flushCtx)
	}()

	a := newApp(cfg, log)
	if err := a.initAll(ctx); err != nil {
		return err
	}
	defer a.Close()
	log.Info("serve.start", slog.String("version", version), slog.String("backends", a.String()))

	if src, ok := a.source.(*registry.FileSource); ok && cfg.Registry.Watch {
		go func() {
			if err := src.Watch(ctx); err != nil {
				log.Warn("registry.watch.error", slog.String("error", err.Error()))
			}
		}()
	}
	if *watch && global.ConfigPath != "" {
		watcher, err := config.NewWatcher(global.ConfigPath, config.WithWatchLogger(log))
		if err != nil {
			return WrapConfigError(err, global.ConfigPath)
		}
		watcher.OnChange(func(c *config.Config) {
			telemetry.SetLogLevel(c.Log.Level)
		})
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Warn("config.watch.error", slog.String("error", err.Error()))
			}
		}()
	}

	broker := core.NewBroker(0, log)
	svc := a.service(broker)
	a.health.Register("llm", core.StaticChecker(core.HealthHealthy, cfg.LLM.Provider+"/"+cfg.LLM.Model))
	server := httpapi.New(svc,
		httpapi.WithBroker(broker),
		httpapi.WithHealth(a.health),
		httpapi.WithLogger(log),
	)
	serveErr := server.ListenAndServe(ctx, *addr)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.TurnTimeout)
	defer cancel()
	if err := svc.Wait(drainCtx); err != nil {
		log.Warn("serve.drain.error", slog.String("error", err.Error()))
	}
	log.Info("serve.stop")
	return serveErr
}
