// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
)

// MockProvider returns a fixed response, a fixed error, or delegates to ChatFunc.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{Content: m.Response, Usage: Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}}, nil
}

// HashEmbedder is a deterministic offline embedder for the "mock" provider:
// equal texts map to equal vectors, which is enough for demos and tests.
type HashEmbedder struct {
	Dimensions int
}

func (h HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := h.Dimensions
	if dims <= 0 {
		dims = DefaultEmbeddingDimensions
	}
	vec := make([]float32, dims)
	var hash uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		hash ^= uint32(text[i])
		hash *= 16777619
		vec[int(hash%uint32(dims))] += 1
	}
	return vec, nil
}
