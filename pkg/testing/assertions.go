// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"strings"
	"testing"

	"github.com/jllopis/deskpilot/pkg/llm"
)

// RequestAssertions checks a captured chat request.
type RequestAssertions struct {
	t   *testing.T
	req *llm.ChatRequest
}

// AssertRequest starts a chain of checks on req.
func AssertRequest(t *testing.T, req *llm.ChatRequest) *RequestAssertions {
	t.Helper()
	if req == nil {
		t.Fatal("request is nil")
	}
	return &RequestAssertions{t: t, req: req}
}

// HasModel checks the requested model.
func (r *RequestAssertions) HasModel(model string) *RequestAssertions {
	r.t.Helper()
	if r.req.Model != model {
		r.t.Errorf("expected model %q, got %q", model, r.req.Model)
	}
	return r
}

// HasMessageCount counts every message including the system prompt.
func (r *RequestAssertions) HasMessageCount(count int) *RequestAssertions {
	r.t.Helper()
	if len(r.req.Messages) != count {
		r.t.Errorf("expected %d messages, got %d", count, len(r.req.Messages))
	}
	return r
}

// HasFormat checks the structured output schema name.
func (r *RequestAssertions) HasFormat(name string) *RequestAssertions {
	r.t.Helper()
	if r.req.ResponseFormat == nil {
		r.t.Errorf("expected response format %q, got none", name)
	} else if r.req.ResponseFormat.Name != name {
		r.t.Errorf("expected response format %q, got %q", name, r.req.ResponseFormat.Name)
	}
	return r
}

// HasSystemMessage checks that the system prompt contains substr.
func (r *RequestAssertions) HasSystemMessage(contains string) *RequestAssertions {
	r.t.Helper()
	return r.hasRole(llm.RoleSystem, contains)
}

// HasUserMessage checks that some user message contains substr.
func (r *RequestAssertions) HasUserMessage(contains string) *RequestAssertions {
	r.t.Helper()
	return r.hasRole(llm.RoleUser, contains)
}

// LacksText checks that no message contains substr.
func (r *RequestAssertions) LacksText(substr string) *RequestAssertions {
	r.t.Helper()
	for _, m := range r.req.Messages {
		if strings.Contains(m.Content, substr) {
			r.t.Errorf("expected no message containing %q, found one with role %s", substr, m.Role)
			return r
		}
	}
	return r
}

func (r *RequestAssertions) hasRole(role llm.Role, contains string) *RequestAssertions {
	r.t.Helper()
	for _, m := range r.req.Messages {
		if m.Role == role && strings.Contains(m.Content, contains) {
			return r
		}
	}
	r.t.Errorf("expected %s message containing %q", role, contains)
	return r
}

// RequireNoError fails the test immediately on err.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// RequireEqual fails the test immediately when the values differ.
func RequireEqual[T comparable](t *testing.T, expected, actual T, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}
