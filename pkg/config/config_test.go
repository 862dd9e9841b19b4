// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %s", cfg.LLM.Provider)
	}
	if cfg.Knowledge.TopK != 3 {
		t.Errorf("expected top_k 3, got %d", cfg.Knowledge.TopK)
	}
	if cfg.History.ContextWindow != 3 {
		t.Errorf("expected context window 3, got %d", cfg.History.ContextWindow)
	}
	if cfg.LLM.Timeout != 60*time.Second {
		t.Errorf("expected 60s timeout, got %s", cfg.LLM.Timeout)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskpilot.yaml")
	writeFile(t, path, `
llm:
  provider: openai
  model: gpt-4o-mini
checkpoint:
  provider: sqlite
  path: /tmp/cp.db
router:
  max_history: 20
`)
	t.Setenv("DESKPILOT_LLM_MODEL", "gpt-4.1")
	t.Setenv("DESKPILOT_LLM_BASE_URL", "http://proxy.local/v1")
	t.Setenv("DESKPILOT_KNOWLEDGE_TOP_K", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("provider = %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "gpt-4.1" {
		t.Errorf("env should override file model, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.BaseURL != "http://proxy.local/v1" {
		t.Errorf("base_url = %s", cfg.LLM.BaseURL)
	}
	if cfg.Knowledge.TopK != 5 {
		t.Errorf("top_k = %d", cfg.Knowledge.TopK)
	}
	if cfg.Checkpoint.Provider != "sqlite" || cfg.Checkpoint.Path != "/tmp/cp.db" {
		t.Errorf("checkpoint = %+v", cfg.Checkpoint)
	}
	if cfg.Router.MaxHistory != 20 {
		t.Errorf("router.max_history = %d", cfg.Router.MaxHistory)
	}
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yaml")
	writeFile(t, base, "log:\n  level: info\nllm:\n  provider: ollama\n")
	writeFile(t, filepath.Join(dir, "config.dev.yaml"), "log:\n  level: debug\n")

	t.Setenv("DESKPILOT_PROFILE", "dev")
	cfg, err := Load(base)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("profile should override level, got %s", cfg.Log.Level)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("base value lost, got %s", cfg.LLM.Provider)
	}
}

func TestLoadWithCLIOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "llm:\n  provider: ollama\n")

	cfg, err := LoadWithCLI([]string{
		"--config", path,
		"--set", "llm.provider=mock",
		"--set", "registry.watch=true",
		"--set", "knowledge.top_k=7",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.LLM.Provider != "mock" {
		t.Errorf("provider = %s", cfg.LLM.Provider)
	}
	if !cfg.Registry.Watch {
		t.Error("registry.watch should be true")
	}
	if cfg.Knowledge.TopK != 7 {
		t.Errorf("top_k = %d", cfg.Knowledge.TopK)
	}

	if _, err := LoadWithCLI([]string{"--set", "novalue"}); err == nil {
		t.Error("expected error for malformed --set")
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cases := []string{
		"llm.provider=anthropic",
		"knowledge.provider=pinecone",
		"checkpoint.provider=redis",
		"calendar.provider=google",
		"telemetry.exporter=otlp",
		"calendar.provider=mcp",
	}
	for _, set := range cases {
		if _, err := LoadWithCLI([]string{"--set", set}); err == nil {
			t.Errorf("expected validation error for %s", set)
		}
	}
}

func TestCalendarMCP(t *testing.T) {
	cfg, err := LoadWithCLI([]string{
		"--set", "calendar.provider=mcp",
		"--set", "calendar.mcp_url=http://localhost:9000/mcp",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.Calendar.MCPTool != "create_event" || cfg.Calendar.MCPTimeout != 10*time.Second {
		t.Fatalf("calendar = %+v", cfg.Calendar)
	}
}

func TestProfilePath(t *testing.T) {
	if got := ProfilePath("/etc/deskpilot/config.yaml", "prod"); got != "/etc/deskpilot/config.prod.yaml" {
		t.Fatalf("ProfilePath = %s", got)
	}
}

func TestWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	w, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	changed := make(chan *Config, 1)
	w.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "log:\n  level: debug\n")

	select {
	case c := <-changed:
		if c.Log.Level != "debug" {
			t.Fatalf("reloaded level = %s", c.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if w.Config().Log.Level != "debug" {
		t.Fatalf("Config() not updated")
	}
}
