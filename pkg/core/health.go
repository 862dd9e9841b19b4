// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult is the outcome of one check.
type HealthResult struct {
	Component string       `json:"component"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LastCheck time.Time    `json:"lastCheck"`
}

// HealthChecker checks one component. The context carries the check timeout.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) HealthResult

// Check implements HealthChecker.
func (f HealthCheckFunc) Check(ctx context.Context) HealthResult { return f(ctx) }

// PingChecker reports unhealthy when ping fails, e.g. a database or a gRPC
// connection.
func PingChecker(ping func(ctx context.Context) error) HealthChecker {
	return HealthCheckFunc(func(ctx context.Context) HealthResult {
		if err := ping(ctx); err != nil {
			return HealthResult{Status: HealthUnhealthy, Message: err.Error()}
		}
		return HealthResult{Status: HealthHealthy}
	})
}

// StaticChecker always reports status.
func StaticChecker(status HealthStatus, message string) HealthChecker {
	return HealthCheckFunc(func(context.Context) HealthResult {
		return HealthResult{Status: status, Message: message}
	})
}

// Health runs the registered checkers.
type Health struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	timeout  time.Duration
}

// NewHealth creates an empty registry; each check gets timeout (default 2s).
func NewHealth(timeout time.Duration) *Health {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Health{checkers: make(map[string]HealthChecker), timeout: timeout}
}

// Register adds or replaces the checker of a component.
func (h *Health) Register(name string, c HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = c
}

// Check runs a single component's checker.
func (h *Health) Check(ctx context.Context, name string) (HealthResult, error) {
	h.mu.RLock()
	c, ok := h.checkers[name]
	h.mu.RUnlock()
	if !ok {
		return HealthResult{}, fmt.Errorf("checker not registered: %s", name)
	}
	return h.run(ctx, name, c), nil
}

// CheckAll runs every checker sorted by name. The overall status is the worst
// individual one.
func (h *Health) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	overall := HealthHealthy
	results := make([]HealthResult, 0, len(names))
	for _, name := range names {
		h.mu.RLock()
		c := h.checkers[name]
		h.mu.RUnlock()
		r := h.run(ctx, name, c)
		results = append(results, r)
		switch {
		case r.Status == HealthUnhealthy:
			overall = HealthUnhealthy
		case r.Status == HealthDegraded && overall == HealthHealthy:
			overall = HealthDegraded
		}
	}
	return results, overall
}

func (h *Health) run(ctx context.Context, name string, c HealthChecker) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	r := c.Check(ctx)
	r.Component = name
	if r.LastCheck.IsZero() {
		r.LastCheck = time.Now().UTC()
	}
	return r
}
