// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads deskpilot settings from defaults, a YAML file,
// DESKPILOT_* environment variables and --set overrides, in that order.
package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DESKPILOT_"

type Config struct {
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	LLM        LLMConfig        `koanf:"llm"`
	Knowledge  KnowledgeConfig  `koanf:"knowledge"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	History    HistoryConfig    `koanf:"history"`
	Registry   RegistryConfig   `koanf:"registry"`
	Calendar   CalendarConfig   `koanf:"calendar"`
	Router     RouterConfig     `koanf:"router"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Server     ServerConfig     `koanf:"server"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type LLMConfig struct {
	Provider       string        `koanf:"provider"` // openai, ollama, mock
	Model          string        `koanf:"model"`
	EmbeddingModel string        `koanf:"embedding_model"`
	BaseURL        string        `koanf:"base_url"`
	APIKey         string        `koanf:"api_key"`
	Temperature    float64       `koanf:"temperature"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxRetries     int           `koanf:"max_retries"`
}

type KnowledgeConfig struct {
	Provider string `koanf:"provider"` // memory, sqlite, qdrant
	Path     string `koanf:"path"`
	// QdrantAddr is host:port of the qdrant gRPC endpoint.
	QdrantAddr string `koanf:"qdrant_addr"`
	Collection string `koanf:"collection"`
	Dimensions int    `koanf:"dimensions"`
	TopK       int    `koanf:"top_k"`
	// EmbeddingCacheBytes bounds the embedding cache; 0 disables it.
	EmbeddingCacheBytes int64 `koanf:"embedding_cache_bytes"`
}

type CheckpointConfig struct {
	Provider   string `koanf:"provider"` // memory, sqlite, file
	Path       string `koanf:"path"`
	MaxThreads int    `koanf:"max_threads"`
}

type HistoryConfig struct {
	Provider      string `koanf:"provider"` // memory, sqlite, file
	Path          string `koanf:"path"`
	ContextWindow int    `koanf:"context_window"`
	// MaxMessages bounds a full history read; 0 keeps everything.
	MaxMessages int `koanf:"max_messages"`
}

type RegistryConfig struct {
	Provider string `koanf:"provider"` // file, sqlite
	Path     string `koanf:"path"`
	Watch    bool   `koanf:"watch"`
}

type CalendarConfig struct {
	Provider string `koanf:"provider"` // log, sqlite, mcp
	Path     string `koanf:"path"`

	// MCP server hosting the calendar tool. MCPURL wins over MCPCommand.
	MCPCommand string        `koanf:"mcp_command"`
	MCPArgs    []string      `koanf:"mcp_args"`
	MCPURL     string        `koanf:"mcp_url"`
	MCPTool    string        `koanf:"mcp_tool"`
	MCPTimeout time.Duration `koanf:"mcp_timeout"`
}

type RouterConfig struct {
	MaxHistory int `koanf:"max_history"`
}

type SchedulerConfig struct {
	MaxHistory int `koanf:"max_history"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	// TurnTimeout bounds a background turn started by an async request.
	TurnTimeout time.Duration `koanf:"turn_timeout"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"telemetry.exporter": "none",

	"llm.provider":        "ollama",
	"llm.model":           "qwen2.5:7b-instruct",
	"llm.embedding_model": "nomic-embed-text",
	"llm.base_url":        "http://localhost:11434",
	"llm.temperature":     0.2,
	"llm.timeout":         "60s",
	"llm.max_retries":     3,

	"knowledge.provider":              "memory",
	"knowledge.path":                  "deskpilot.db",
	"knowledge.qdrant_addr":           "localhost:6334",
	"knowledge.collection":            "deskpilot_knowledge",
	"knowledge.dimensions":            1536,
	"knowledge.top_k":                 3,
	"knowledge.embedding_cache_bytes": 32 << 20,

	"checkpoint.provider":    "memory",
	"checkpoint.path":        "deskpilot.db",
	"checkpoint.max_threads": 10000,

	"history.provider":       "memory",
	"history.path":           "deskpilot.db",
	"history.context_window": 3,
	"history.max_messages":   0,

	"registry.provider": "file",
	"registry.path":     "agents.yaml",
	"registry.watch":    false,

	"calendar.provider":    "log",
	"calendar.path":        "deskpilot.db",
	"calendar.mcp_tool":    "create_event",
	"calendar.mcp_timeout": "10s",

	"router.max_history":    50,
	"scheduler.max_history": 50,

	"server.addr":         ":8080",
	"server.turn_timeout": "2m",
}

// Load reads the configuration at path. An empty path uses defaults and env only.
// A sibling profile file named after DESKPILOT_PROFILE (config.dev.yaml) is
// merged over the base file when present.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithCLI parses --config and repeated --set key=value flags from args.
// --set values are decoded as YAML scalars or documents so numbers, booleans
// and lists keep their types.
func LoadWithCLI(args []string) (*Config, error) {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("config", "", "config file")
	var sets setFlags
	fs.Var(&sets, "set", "override key=value")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	overrides := make(map[string]any, len(sets))
	for _, raw := range sets {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", raw)
		}
		var decoded any
		if err := yamlv3.Unmarshal([]byte(value), &decoded); err != nil || decoded == nil {
			decoded = value
		}
		overrides[strings.TrimSpace(key)] = decoded
	}
	return load(*path, overrides)
}

func load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if profile := os.Getenv(EnvPrefix + "PROFILE"); profile != "" {
			if p := ProfilePath(path, profile); fileExists(p) {
				if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load %s: %w", p, err)
				}
			}
		}
	}

	// DESKPILOT_LLM_BASE_URL -> llm.base_url: the first segment names the section.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if s == "profile" {
		return ""
	}
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return section
	}
	return section + "." + rest
}

// ProfilePath returns the profile overlay path for base, e.g. config.dev.yaml.
func ProfilePath(base, profile string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + profile + ext
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Validate rejects unknown providers and non-positive limits.
func (c *Config) Validate() error {
	checks := []struct {
		field string
		value string
		allow []string
	}{
		{"log.format", c.Log.Format, []string{"text", "json"}},
		{"telemetry.exporter", c.Telemetry.Exporter, []string{"none", "stdout", "otlp"}},
		{"llm.provider", c.LLM.Provider, []string{"openai", "ollama", "mock"}},
		{"knowledge.provider", c.Knowledge.Provider, []string{"memory", "sqlite", "qdrant"}},
		{"checkpoint.provider", c.Checkpoint.Provider, []string{"memory", "sqlite", "file"}},
		{"history.provider", c.History.Provider, []string{"memory", "sqlite", "file"}},
		{"registry.provider", c.Registry.Provider, []string{"file", "sqlite"}},
		{"calendar.provider", c.Calendar.Provider, []string{"log", "sqlite", "mcp"}},
	}
	for _, ch := range checks {
		if !contains(ch.allow, ch.value) {
			return fmt.Errorf("config: %s %q is not one of %s", ch.field, ch.value, strings.Join(ch.allow, ", "))
		}
	}
	if c.Knowledge.TopK <= 0 {
		return fmt.Errorf("config: knowledge.top_k must be positive")
	}
	if c.Router.MaxHistory <= 0 || c.Scheduler.MaxHistory <= 0 {
		return fmt.Errorf("config: max_history must be positive")
	}
	if c.History.ContextWindow <= 0 {
		return fmt.Errorf("config: history.context_window must be positive")
	}
	if c.History.MaxMessages < 0 {
		return fmt.Errorf("config: history.max_messages must not be negative")
	}
	if c.Calendar.Provider == "mcp" && c.Calendar.MCPURL == "" && c.Calendar.MCPCommand == "" {
		return fmt.Errorf("config: calendar.mcp_url or calendar.mcp_command is required for the mcp calendar")
	}
	if c.Telemetry.Exporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("config: telemetry.otlp_endpoint is required for the otlp exporter")
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

type setFlags []string

func (s *setFlags) String() string { return strings.Join(*s, ",") }

func (s *setFlags) Set(v string) error {
	*s = append(*s, v)
	return nil
}
