// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"
)

// Policy composes a per-attempt timeout, retries and an optional breaker.
// The breaker wraps every attempt so repeated failures across turns open it.
type Policy struct {
	Timeout time.Duration
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// Run executes fn under the policy. The zero Policy runs fn once.
func (p Policy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := func(ctx context.Context) error {
		return WithTimeout(ctx, p.Timeout, fn)
	}
	if p.Breaker != nil {
		inner := attempt
		attempt = func(ctx context.Context) error {
			return p.Breaker.Call(ctx, inner)
		}
	}
	return p.Retry.Do(ctx, attempt)
}
