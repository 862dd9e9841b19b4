// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai adapts the OpenAI API to llm.Provider and llm.Embedder.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jllopis/deskpilot/pkg/llm"
)

const (
	defaultChatModel      = openai.ChatModelGPT4oMini
	defaultEmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
)

// Option configures the OpenAI adapters.
type Option func(*settings)

type settings struct {
	model          string
	embeddingModel string
	clientOpts     []option.RequestOption
}

// WithModel sets the default chat model.
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(s *settings) { s.embeddingModel = model }
}

// WithAPIKey sets the API key; OPENAI_API_KEY is used otherwise.
func WithAPIKey(key string) Option {
	return func(s *settings) {
		if key != "" {
			s.clientOpts = append(s.clientOpts, option.WithAPIKey(key))
		}
	}
}

// WithBaseURL points the client at a proxy or compatible server.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		if url != "" {
			s.clientOpts = append(s.clientOpts, option.WithBaseURL(url))
		}
	}
}

func resolve(opts []Option) settings {
	s := settings{model: defaultChatModel, embeddingModel: defaultEmbeddingModel}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Provider implements llm.Provider.
type Provider struct {
	client openai.Client
	model  string
}

// New creates a chat provider.
func New(opts ...Option) *Provider {
	s := resolve(opts)
	return &Provider{client: openai.NewClient(s.clientOpts...), model: s.model}
}

// Chat implements llm.Provider. A ResponseFormat becomes a strict
// json_schema response format.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if rf := req.ResponseFormat; rf != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   rf.Name,
					Schema: rf.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}

	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) > 0 {
		resp.Content = completion.Choices[0].Message.Content
	}
	return resp, nil
}

func convertMessages(msgs []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Embedder implements llm.Embedder.
type Embedder struct {
	client openai.Client
	model  string
}

// NewEmbedder creates an embeddings client.
func NewEmbedder(opts ...Option) *Embedder {
	s := resolve(opts)
	return &Embedder{client: openai.NewClient(s.clientOpts...), model: s.embeddingModel}
}

// Embed implements llm.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}

var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Embedder = (*Embedder)(nil)
)
