// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/resilience"
	"github.com/jllopis/deskpilot/pkg/telemetry"
)

// Client wraps a Provider and an Embedder behind one resilience policy.
type Client struct {
	provider    Provider
	embedder    Embedder
	model       string
	temperature float64
	policy      resilience.Policy
	tracer      trace.Tracer
	log         *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithModel sets the model passed on every chat request.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ClientOption {
	return func(c *Client) { c.temperature = t }
}

// WithPolicy replaces the default resilience policy.
func WithPolicy(p resilience.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient builds a Client. embedder may be nil when only generation is needed.
func NewClient(provider Provider, embedder Embedder, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		embedder: embedder,
		policy: resilience.Policy{
			Timeout: 60 * time.Second,
			Retry:   resilience.DefaultRetryConfig(),
			Breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{Name: "llm"}),
		},
		tracer: otel.Tracer("deskpilot/llm"),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns the raw completion text.
func (c *Client) Generate(ctx context.Context, system string, msgs []Message) (string, error) {
	resp, err := c.chat(ctx, "generate", c.request(system, msgs, nil))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// GenerateJSON asks for JSON matching the schema of out and decodes into it.
// An unparsable answer counts as a failed attempt and is retried.
func (c *Client) GenerateJSON(ctx context.Context, system string, msgs []Message, name string, out any) error {
	target := reflect.ValueOf(out)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return errors.New(errors.CodeInternal, "structured output needs a non-nil pointer", nil).WithContext("schema", name)
	}
	schema, err := SchemaFor(out)
	if err != nil {
		return errors.New(errors.CodeInternal, "derive response schema", err).WithContext("schema", name)
	}
	req := c.request(system, msgs, &ResponseFormat{Name: name, Schema: schema})

	ctx, span := c.tracer.Start(ctx, "llm.GenerateJSON")
	defer span.End()
	start := time.Now()

	var usage Usage
	err = c.policy.Run(ctx, func(ctx context.Context) error {
		resp, err := c.provider.Chat(ctx, req)
		if err != nil {
			return errors.New(errors.CodeLLMError, "chat completion failed", err).
				WithContext("schema", name).
				WithRecoverable(true)
		}
		usage = resp.Usage
		// Each attempt decodes into a zero value so a failed one leaves no fields behind.
		fresh := reflect.New(target.Elem().Type())
		if err := json.Unmarshal([]byte(extractJSON(resp.Content)), fresh.Interface()); err != nil {
			return errors.New(errors.CodeLLMError, "structured output did not match schema", err).
				WithContext("schema", name).
				WithRecoverable(true)
		}
		target.Elem().Set(fresh.Elem())
		return nil
	})
	c.finish(ctx, span, "generate_json:"+name, usage, start, err)
	return err
}

// Embed returns the embedding of text. An empty vector is an error.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embedder == nil {
		return nil, errors.New(errors.CodeEmbeddingError, "no embedder configured", nil)
	}
	ctx, span := c.tracer.Start(ctx, "llm.Embed")
	defer span.End()
	start := time.Now()

	var vec []float32
	err := c.policy.Run(ctx, func(ctx context.Context) error {
		v, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return errors.New(errors.CodeEmbeddingError, "embedding call failed", err).WithRecoverable(true)
		}
		if len(v) == 0 {
			return errors.New(errors.CodeEmbeddingError, "embedding provider returned an empty vector", nil)
		}
		vec = v
		return nil
	})
	c.finish(ctx, span, "embed", Usage{}, start, err)
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (c *Client) request(system string, msgs []Message, format *ResponseFormat) ChatRequest {
	all := make([]Message, 0, len(msgs)+1)
	if system != "" {
		all = append(all, Message{Role: RoleSystem, Content: system})
	}
	all = append(all, msgs...)
	return ChatRequest{
		Model:          c.model,
		Messages:       all,
		Temperature:    c.temperature,
		ResponseFormat: format,
	}
}

func (c *Client) chat(ctx context.Context, op string, req ChatRequest) (*ChatResponse, error) {
	ctx, span := c.tracer.Start(ctx, "llm.Chat")
	defer span.End()
	start := time.Now()

	var resp *ChatResponse
	err := c.policy.Run(ctx, func(ctx context.Context) error {
		r, err := c.provider.Chat(ctx, req)
		if err != nil {
			return errors.New(errors.CodeLLMError, "chat completion failed", err).WithRecoverable(true)
		}
		resp = r
		return nil
	})
	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}
	c.finish(ctx, span, op, usage, start, err)
	return resp, err
}

func (c *Client) finish(ctx context.Context, span trace.Span, op string, usage Usage, start time.Time, err error) {
	span.SetAttributes(telemetry.LLMAttributes(op, c.model, usage.PromptTokens, usage.CompletionTokens)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.Metrics().RecordLLMFailure(ctx, op, err)
		c.log.WarnContext(ctx, "llm.call.error",
			slog.String("operation", op),
			slog.String("model", c.model),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	c.log.DebugContext(ctx, "llm.call.done",
		slog.String("operation", op),
		slog.String("model", c.model),
		slog.Int("total_tokens", usage.TotalTokens),
		slog.Duration("duration", time.Since(start)),
	)
}
