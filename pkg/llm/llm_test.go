// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/resilience"
)

type routeAnswer struct {
	AgentIDs []string `json:"agentIds"`
}

// scriptedProvider pops one response per call, in order.
type scriptedProvider struct {
	mu        sync.Mutex
	Responses []string
	CallCount int
}

func newScriptedProvider(responses ...string) *scriptedProvider {
	return &scriptedProvider{Responses: responses}
}

func (s *scriptedProvider) Chat(_ context.Context, _ ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCount++
	if len(s.Responses) == 0 {
		return nil, stderrors.New("scripted mock: no more responses available")
	}
	content := s.Responses[0]
	s.Responses = s.Responses[1:]
	return &ChatResponse{Content: content}, nil
}

func fastPolicy(attempts int) resilience.Policy {
	return resilience.Policy{
		Retry: resilience.DefaultRetryConfig().WithMaxAttempts(attempts).WithInitialDelay(time.Millisecond),
	}
}

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: "Hello world"}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Expected 'Hello world', got '%s'", resp.Content)
	}
}

func TestScriptedProvider(t *testing.T) {
	p := newScriptedProvider("one", "two")
	for _, want := range []string{"one", "two"} {
		resp, err := p.Chat(context.Background(), ChatRequest{})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if resp.Content != want {
			t.Fatalf("got %q, want %q", resp.Content, want)
		}
	}
	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected error once the script is exhausted")
	}
	if p.CallCount != 3 {
		t.Fatalf("CallCount = %d, want 3", p.CallCount)
	}
}

func TestGenerateJSONDecodesFencedAnswer(t *testing.T) {
	var seen ChatRequest
	p := &MockProvider{ChatFunc: func(_ context.Context, req ChatRequest) (*ChatResponse, error) {
		seen = req
		return &ChatResponse{Content: "Sure:\n```json\n{\"agentIds\": [\"greeter\"]}\n```"}, nil
	}}
	c := NewClient(p, nil, WithModel("m1"), WithPolicy(fastPolicy(1)))

	var out routeAnswer
	if err := c.GenerateJSON(context.Background(), "route", []Message{{Role: RoleUser, Content: "hi"}}, "route", &out); err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if len(out.AgentIDs) != 1 || out.AgentIDs[0] != "greeter" {
		t.Fatalf("decoded %+v", out)
	}
	if seen.Model != "m1" {
		t.Errorf("model = %q", seen.Model)
	}
	if len(seen.Messages) != 2 || seen.Messages[0].Role != RoleSystem {
		t.Errorf("system prompt not prepended: %+v", seen.Messages)
	}
	if seen.ResponseFormat == nil || seen.ResponseFormat.Name != "route" {
		t.Fatalf("response format missing: %+v", seen.ResponseFormat)
	}
	props, _ := seen.ResponseFormat.Schema["properties"].(map[string]any)
	if _, ok := props["agentIds"]; !ok {
		t.Errorf("schema has no agentIds property: %v", seen.ResponseFormat.Schema)
	}
}

func TestGenerateJSONRetriesUnparsableAnswer(t *testing.T) {
	p := newScriptedProvider("not json at all", `{"agentIds":["scheduler"]}`)
	c := NewClient(p, nil, WithPolicy(fastPolicy(3)))

	var out routeAnswer
	if err := c.GenerateJSON(context.Background(), "", nil, "route", &out); err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if p.CallCount != 2 {
		t.Fatalf("CallCount = %d, want 2", p.CallCount)
	}
	if out.AgentIDs[0] != "scheduler" {
		t.Fatalf("decoded %+v", out)
	}
}

func TestGenerateJSONProviderFailure(t *testing.T) {
	var calls atomic.Int32
	p := &MockProvider{ChatFunc: func(context.Context, ChatRequest) (*ChatResponse, error) {
		calls.Add(1)
		return nil, stderrors.New("connection refused")
	}}
	c := NewClient(p, nil, WithPolicy(fastPolicy(2)))

	var out routeAnswer
	err := c.GenerateJSON(context.Background(), "", nil, "route", &out)
	if !errors.HasCode(err, errors.CodeLLMError) {
		t.Fatalf("err = %v, want CodeLLMError", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestGenerate(t *testing.T) {
	c := NewClient(&MockProvider{Response: "Hello!"}, nil, WithPolicy(fastPolicy(1)))
	got, err := c.Generate(context.Background(), "be nice", []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Hello!" {
		t.Fatalf("got %q", got)
	}
}

type funcEmbedder func(ctx context.Context, text string) ([]float32, error)

func (f funcEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

func TestEmbed(t *testing.T) {
	c := NewClient(&MockProvider{}, HashEmbedder{Dimensions: 8}, WithPolicy(fastPolicy(1)))
	vec, err := c.Embed(context.Background(), "reset my password")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("len = %d", len(vec))
	}

	empty := NewClient(&MockProvider{}, funcEmbedder(func(context.Context, string) ([]float32, error) {
		return nil, nil
	}), WithPolicy(fastPolicy(1)))
	if _, err := empty.Embed(context.Background(), "x"); !errors.HasCode(err, errors.CodeEmbeddingError) {
		t.Fatalf("empty vector: err = %v", err)
	}

	none := NewClient(&MockProvider{}, nil)
	if _, err := none.Embed(context.Background(), "x"); !errors.HasCode(err, errors.CodeEmbeddingError) {
		t.Fatalf("no embedder: err = %v", err)
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	h := HashEmbedder{Dimensions: 16}
	a, _ := h.Embed(context.Background(), "invoice")
	b, _ := h.Embed(context.Background(), "invoice")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d", i)
		}
	}
	d, _ := HashEmbedder{}.Embed(context.Background(), "x")
	if len(d) != DefaultEmbeddingDimensions {
		t.Fatalf("default dims = %d", len(d))
	}
}

func TestCachedEmbedder(t *testing.T) {
	var calls atomic.Int32
	inner := funcEmbedder(func(_ context.Context, text string) ([]float32, error) {
		calls.Add(1)
		if text == "fail" {
			return nil, stderrors.New("boom")
		}
		return []float32{1, 2, 3}, nil
	})
	c, err := NewCachedEmbedder(inner, 1<<20, 0)
	if err != nil {
		t.Fatalf("NewCachedEmbedder: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if _, err := c.Embed(ctx, "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	c.Wait()
	if _, err := c.Embed(ctx, "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}

	if _, err := c.Embed(ctx, "fail"); err == nil {
		t.Fatal("expected error")
	}
	c.Wait()
	if _, err := c.Embed(ctx, "fail"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Fatalf("failed calls were cached: calls = %d", calls.Load())
	}
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                     `{"a":1}`,
		"```json\n{\"a\":1}\n```":     `{"a":1}`,
		"Here you go: [\"x\"] thanks": `["x"]`,
		"plain":                       "plain",
	}
	for in, want := range cases {
		if got := extractJSON(in); got != want {
			t.Errorf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSchemaForRequiresFields(t *testing.T) {
	type draft struct {
		Title    string `json:"title"`
		Optional string `json:"optional,omitempty"`
	}
	s, err := SchemaFor(&draft{})
	if err != nil {
		t.Fatalf("SchemaFor: %v", err)
	}
	req, _ := s["required"].([]any)
	if len(req) != 1 || req[0] != "title" {
		t.Fatalf("required = %v", s["required"])
	}
	if s["additionalProperties"] != false {
		t.Fatalf("additionalProperties = %v", s["additionalProperties"])
	}
	if _, err := SchemaFor(nil); err == nil {
		t.Fatal("expected error for nil")
	}
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			var req ollamaChatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if req.Stream || req.Format == nil {
				http.Error(w, "want non-streaming with format", http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(ollamaChatResponse{
				Message:         Message{Role: RoleAssistant, Content: `{"agentIds":[]}`},
				Done:            true,
				PromptEvalCount: 7,
				EvalCount:       3,
			})
		case "/api/embeddings":
			_ = json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: []float64{0.5, 0.25}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	resp, err := NewOllama(srv.URL).Chat(ctx, ChatRequest{
		Model:          "llama3",
		ResponseFormat: &ResponseFormat{Name: "route", Schema: map[string]any{"type": "object"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	vec, err := NewOllamaEmbedder(srv.URL, "nomic-embed-text").Embed(ctx, "x")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Fatalf("vec = %v", vec)
	}

	_, err = NewOllama(srv.URL+"/missing").Chat(ctx, ChatRequest{})
	if err == nil {
		t.Fatal("expected error for 404")
	}
}

type draftAnswer struct {
	Title string `json:"title"`
	Start string `json:"start"`
}

func TestGenerateJSONRetryStartsFromEmptyValue(t *testing.T) {
	// The first answer sets title before failing on start.
	p := newScriptedProvider(`{"title":"Stale","start":42}`, `{"start":"10:00"}`)
	c := NewClient(p, nil, WithPolicy(fastPolicy(2)))

	var out draftAnswer
	if err := c.GenerateJSON(context.Background(), "", nil, "draft", &out); err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if out.Title != "" || out.Start != "10:00" {
		t.Fatalf("decoded %+v", out)
	}
}

func TestGenerateJSONRejectsNonPointer(t *testing.T) {
	c := NewClient(&MockProvider{Response: "{}"}, nil, WithPolicy(fastPolicy(1)))
	if err := c.GenerateJSON(context.Background(), "", nil, "route", routeAnswer{}); !errors.HasCode(err, errors.CodeInternal) {
		t.Fatalf("err = %v", err)
	}
}
