// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jllopis/deskpilot/pkg/llm"
)

// ScenarioProvider is a scripted llm.Provider. Requests are matched first
// against rules (keyed by response format or system prompt), then served from
// the ordered queue. Every request is captured.
type ScenarioProvider struct {
	mu           sync.Mutex
	rules        []*rule
	responses    []ScriptedResponse
	currentIndex int
	requests     []llm.ChatRequest
	defaultError error
	onChat       func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

// ScriptedResponse defines a response for the scenario provider.
type ScriptedResponse struct {
	Content string
	Error   error
	Usage   llm.Usage
}

// rule answers matching requests in order; the last answer repeats.
type rule struct {
	match   func(req llm.ChatRequest) bool
	answers []ScriptedResponse
	served  int
}

func (r *rule) next() ScriptedResponse {
	i := r.served
	if i >= len(r.answers) {
		i = len(r.answers) - 1
	}
	r.served++
	return r.answers[i]
}

// NewScenarioProvider creates an empty provider.
func NewScenarioProvider() *ScenarioProvider {
	return &ScenarioProvider{}
}

// AddResponse queues a response to be returned.
func (p *ScenarioProvider) AddResponse(content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: content})
}

// AddErrorResponse queues an error response.
func (p *ScenarioProvider) AddErrorResponse(err error) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Error: err})
}

// AddScriptedResponse adds a fully configured response.
func (p *ScenarioProvider) AddScriptedResponse(resp ScriptedResponse) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	return p
}

// On answers requests accepted by match with contents in order, repeating the
// last one.
func (p *ScenarioProvider) On(match func(req llm.ChatRequest) bool, contents ...string) *ScenarioProvider {
	answers := make([]ScriptedResponse, len(contents))
	for i, c := range contents {
		answers[i] = ScriptedResponse{Content: c}
	}
	return p.addRule(match, answers)
}

// OnError fails requests accepted by match.
func (p *ScenarioProvider) OnError(match func(req llm.ChatRequest) bool, err error) *ScenarioProvider {
	return p.addRule(match, []ScriptedResponse{{Error: err}})
}

// OnFormat answers structured requests whose response format is name.
func (p *ScenarioProvider) OnFormat(name string, contents ...string) *ScenarioProvider {
	return p.On(FormatIs(name), contents...)
}

// FormatIs matches structured requests by response format name.
func FormatIs(name string) func(llm.ChatRequest) bool {
	return func(req llm.ChatRequest) bool {
		return req.ResponseFormat != nil && req.ResponseFormat.Name == name
	}
}

// SystemContains matches requests whose system prompt contains substr.
func SystemContains(substr string) func(llm.ChatRequest) bool {
	return func(req llm.ChatRequest) bool {
		for _, m := range req.Messages {
			if m.Role == llm.RoleSystem && strings.Contains(m.Content, substr) {
				return true
			}
		}
		return false
	}
}

func (p *ScenarioProvider) addRule(match func(llm.ChatRequest) bool, answers []ScriptedResponse) *ScenarioProvider {
	if len(answers) == 0 {
		answers = []ScriptedResponse{{}}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, &rule{match: match, answers: answers})
	return p
}

// WithDefaultError sets the error to return when nothing matches.
func (p *ScenarioProvider) WithDefaultError(err error) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultError = err
	return p
}

// WithChatFunc sets a custom function for handling chat requests.
func (p *ScenarioProvider) WithChatFunc(fn func(req llm.ChatRequest) (*llm.ChatResponse, error)) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChat = fn
	return p
}

// Chat implements llm.Provider.
func (p *ScenarioProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if p.onChat != nil {
		return p.onChat(req)
	}

	for _, r := range p.rules {
		if r.match(req) {
			return respond(r.next())
		}
	}

	if p.currentIndex >= len(p.responses) {
		if p.defaultError != nil {
			return nil, p.defaultError
		}
		return nil, fmt.Errorf("no more scripted responses (call %d)", len(p.requests))
	}
	resp := p.responses[p.currentIndex]
	p.currentIndex++
	return respond(resp)
}

func respond(r ScriptedResponse) (*llm.ChatResponse, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	return &llm.ChatResponse{Content: r.Content, Usage: r.Usage}, nil
}

// Requests returns all captured requests.
func (p *ScenarioProvider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]llm.ChatRequest, len(p.requests))
	copy(result, p.requests)
	return result
}

// RequestsFor returns the captured requests accepted by match.
func (p *ScenarioProvider) RequestsFor(match func(llm.ChatRequest) bool) []llm.ChatRequest {
	var out []llm.ChatRequest
	for _, r := range p.Requests() {
		if match(r) {
			out = append(out, r)
		}
	}
	return out
}

// LastRequest returns the most recent request.
func (p *ScenarioProvider) LastRequest() *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// CallCount returns the number of Chat calls made.
func (p *ScenarioProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Reset clears captured requests and rewinds the queue and rules.
func (p *ScenarioProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentIndex = 0
	p.requests = p.requests[:0]
	for _, r := range p.rules {
		r.served = 0
	}
}
