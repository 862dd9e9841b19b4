// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jllopis/deskpilot/pkg/agents"
	"github.com/jllopis/deskpilot/pkg/calendar"
	"github.com/jllopis/deskpilot/pkg/config"
	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/core"
	"github.com/jllopis/deskpilot/pkg/knowledge"
	"github.com/jllopis/deskpilot/pkg/knowledge/qdrant"
	"github.com/jllopis/deskpilot/pkg/llm"
	"github.com/jllopis/deskpilot/pkg/llm/openai"
	"github.com/jllopis/deskpilot/pkg/mcp"
	"github.com/jllopis/deskpilot/pkg/memory"
	"github.com/jllopis/deskpilot/pkg/orchestrator"
	"github.com/jllopis/deskpilot/pkg/registry"
	"github.com/jllopis/deskpilot/pkg/resilience"
	"github.com/jllopis/deskpilot/pkg/router"
	"github.com/jllopis/deskpilot/pkg/storage/sqlitedb"
)

// app holds the backends built from a Config. Close releases them in
// reverse order of creation.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	health  *core.Health
	dbs     map[string]*sql.DB
	closers []func() error

	client      *llm.Client
	embedder    llm.Embedder
	store       knowledge.Store
	checkpoints conversation.CheckpointStore
	history     memory.ConversationMemory
	source      registry.Source
	calendar    calendar.Creator
}

func newApp(cfg *config.Config, log *slog.Logger) *app {
	return &app{
		cfg:    cfg,
		log:    log,
		health: core.NewHealth(2 * time.Second),
		dbs:    make(map[string]*sql.DB),
	}
}

// init runs the given build steps, releasing everything on the first failure.
func (a *app) init(ctx context.Context, steps ...func(context.Context) error) error {
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = a.Close()
			return err
		}
	}
	return nil
}

// initAll builds every backend a turn needs.
func (a *app) initAll(ctx context.Context) error {
	return a.init(ctx,
		a.buildLLM,
		a.buildKnowledge,
		a.buildCheckpoints,
		a.buildHistory,
		a.buildRegistry,
		a.buildCalendar,
	)
}

// Close releases every backend.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}

// db opens each SQLite path once; stores configured on the same path share it.
func (a *app) db(path string) (*sql.DB, error) {
	if db, ok := a.dbs[path]; ok {
		return db, nil
	}
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, WrapBackendError(err, "sqlite", path)
	}
	a.dbs[path] = db
	a.closers = append(a.closers, db.Close)
	a.health.Register("sqlite:"+path, core.PingChecker(db.PingContext))
	return db, nil
}

func (a *app) buildLLM(context.Context) error {
	c := a.cfg.LLM
	var (
		provider llm.Provider
		embedder llm.Embedder
	)
	switch c.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithModel(c.Model),
			openai.WithEmbeddingModel(c.EmbeddingModel),
			openai.WithAPIKey(c.APIKey),
			openai.WithBaseURL(c.BaseURL),
		}
		provider = openai.New(opts...)
		embedder = openai.NewEmbedder(opts...)
	case "ollama":
		provider = llm.NewOllama(c.BaseURL)
		embedder = llm.NewOllamaEmbedder(c.BaseURL, c.EmbeddingModel)
	case "mock":
		provider = &llm.MockProvider{ChatFunc: demoChat}
		embedder = llm.HashEmbedder{Dimensions: a.cfg.Knowledge.Dimensions}
	}

	if size := a.cfg.Knowledge.EmbeddingCacheBytes; size > 0 {
		cached, err := llm.NewCachedEmbedder(embedder, size, time.Hour)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { cached.Close(); return nil })
		embedder = cached
	}
	a.embedder = embedder

	retry := resilience.DefaultRetryConfig()
	if c.MaxRetries > 0 {
		retry = retry.WithMaxAttempts(c.MaxRetries)
	}
	a.client = llm.NewClient(provider, embedder,
		llm.WithModel(c.Model),
		llm.WithTemperature(c.Temperature),
		llm.WithLogger(a.log),
		llm.WithPolicy(resilience.Policy{
			Timeout: c.Timeout,
			Retry:   retry,
			Breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{Name: "llm"}),
		}),
	)
	return nil
}

func (a *app) buildKnowledge(ctx context.Context) error {
	c := a.cfg.Knowledge
	switch c.Provider {
	case "memory":
		a.store = knowledge.NewMemoryStore()
	case "sqlite":
		db, err := a.db(c.Path)
		if err != nil {
			return err
		}
		store, err := knowledge.NewSQLiteStore(ctx, db, "")
		if err != nil {
			return err
		}
		a.store = store
	case "qdrant":
		store, err := qdrant.New(c.QdrantAddr, c.Collection)
		if err != nil {
			return WrapBackendError(err, "qdrant", c.QdrantAddr)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureCollection(ctx, uint64(c.Dimensions)); err != nil {
			return WrapBackendError(err, "qdrant", c.QdrantAddr)
		}
		a.health.Register("qdrant", core.PingChecker(func(ctx context.Context) error {
			return store.EnsureCollection(ctx, uint64(c.Dimensions))
		}))
		a.store = store
	}
	return nil
}

func (a *app) buildCheckpoints(ctx context.Context) error {
	c := a.cfg.Checkpoint
	switch c.Provider {
	case "memory":
		cp, err := conversation.NewMemoryCheckpoints(c.MaxThreads)
		if err != nil {
			return err
		}
		a.checkpoints = cp
	case "sqlite":
		db, err := a.db(c.Path)
		if err != nil {
			return err
		}
		cp, err := conversation.NewSQLiteCheckpoints(ctx, db)
		if err != nil {
			return err
		}
		a.checkpoints = cp
	case "file":
		cp, err := conversation.NewFileCheckpoints(c.Path)
		if err != nil {
			return err
		}
		a.checkpoints = cp
	}
	return nil
}

func (a *app) buildHistory(ctx context.Context) error {
	c := a.cfg.History
	var conv memory.ConversationConfig
	if c.MaxMessages > 0 {
		conv.TruncationStrategy = memory.NewWindowStrategy(c.MaxMessages)
	}
	switch c.Provider {
	case "memory":
		a.history = memory.NewInMemoryConversation(conv)
	case "sqlite":
		db, err := a.db(c.Path)
		if err != nil {
			return err
		}
		h, err := memory.NewSQLiteConversation(ctx, memory.SQLiteConfig{DB: db, ConversationConfig: conv})
		if err != nil {
			return err
		}
		a.history = h
	case "file":
		h, err := memory.NewFileConversation(c.Path, conv)
		if err != nil {
			return err
		}
		a.history = h
	}
	return nil
}

func (a *app) buildRegistry(ctx context.Context) error {
	c := a.cfg.Registry
	switch c.Provider {
	case "file":
		src, err := registry.NewFileSource(c.Path)
		if err != nil {
			return WrapBackendError(err, "agent registry", c.Path)
		}
		a.source = src
	case "sqlite":
		db, err := a.db(c.Path)
		if err != nil {
			return err
		}
		src, err := registry.NewSQLiteSource(ctx, db)
		if err != nil {
			return err
		}
		a.source = src
	}
	return nil
}

func (a *app) buildCalendar(ctx context.Context) error {
	c := a.cfg.Calendar
	switch c.Provider {
	case "log":
		a.calendar = calendar.LogCreator{Log: a.log}
	case "sqlite":
		db, err := a.db(c.Path)
		if err != nil {
			return err
		}
		cal, err := calendar.NewSQLiteCalendar(ctx, db)
		if err != nil {
			return err
		}
		a.calendar = cal
	case "mcp":
		// No retries: a repeated call could book the event twice.
		opts := []mcp.ClientOption{mcp.WithTimeout(c.MCPTimeout), mcp.WithRetry(0, 0)}
		var (
			client *mcp.Client
			err    error
			addr   = c.MCPURL
		)
		if c.MCPURL != "" {
			client, err = mcp.NewHTTPClient(ctx, c.MCPURL, opts...)
		} else {
			addr = c.MCPCommand
			client, err = mcp.NewStdioClient(ctx, c.MCPCommand, c.MCPArgs, opts...)
		}
		if err != nil {
			return WrapBackendError(err, "mcp calendar", addr)
		}
		a.closers = append(a.closers, client.Close)
		ok, err := client.HasTool(ctx, c.MCPTool)
		if err != nil {
			return WrapBackendError(err, "mcp calendar", addr)
		}
		if !ok {
			return WrapBackendError(fmt.Errorf("tool %q not offered", c.MCPTool), "mcp calendar", addr)
		}
		a.health.Register("mcp:"+addr, core.PingChecker(client.Ping))
		a.calendar = mcp.NewCalendarCreator(client, c.MCPTool)
	}
	return nil
}

// engine assembles the turn engine over the app's backends.
func (a *app) engine() *orchestrator.Engine {
	ctxReader := agents.ContextReader{
		History: a.history,
		Window:  a.cfg.History.ContextWindow,
		Log:     a.log,
	}
	dispatcher := agents.NewDispatcher(
		agents.NewScheduler(a.client, a.calendar,
			agents.WithSchedulerHistory(a.cfg.Scheduler.MaxHistory),
			agents.WithSchedulerLogger(a.log),
		),
		agents.NewGreeter(a.client, ctxReader),
		agents.NewKnowledgeResponder(a.client, a.client, a.store, ctxReader,
			agents.WithTopK(a.cfg.Knowledge.TopK),
			agents.WithBackend(a.cfg.Knowledge.Provider),
		),
	)
	rt := router.New(a.client,
		router.WithMaxHistory(a.cfg.Router.MaxHistory),
		router.WithLogger(a.log),
	)
	return orchestrator.NewEngine(registry.New(a.source), rt, dispatcher, orchestrator.WithEngineLogger(a.log))
}

// service wraps the engine with checkpointing, history and notifications.
func (a *app) service(notifier core.Notifier) *orchestrator.Service {
	opts := []orchestrator.ServiceOption{
		orchestrator.WithHistory(a.history),
		orchestrator.WithTurnTimeout(a.cfg.Server.TurnTimeout),
		orchestrator.WithServiceLogger(a.log),
	}
	if notifier != nil {
		opts = append(opts, orchestrator.WithNotifier(notifier))
	}
	return orchestrator.NewService(a.engine(), a.checkpoints, opts...)
}

func (a *app) String() string {
	return fmt.Sprintf("llm=%s knowledge=%s checkpoint=%s history=%s registry=%s calendar=%s",
		a.cfg.LLM.Provider, a.cfg.Knowledge.Provider, a.cfg.Checkpoint.Provider,
		a.cfg.History.Provider, a.cfg.Registry.Provider, a.cfg.Calendar.Provider)
}
