// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jllopis/deskpilot/pkg/errors"
)

func fastRetry(n int) RetryConfig {
	return DefaultRetryConfig().WithMaxAttempts(n).WithInitialDelay(time.Millisecond)
}

func TestRetryEventuallySucceeds(t *testing.T) {
	attempts := 0
	err := fastRetry(3).Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return stderrors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnFatalError(t *testing.T) {
	attempts := 0
	err := fastRetry(5).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New(errors.CodeState, "bad state", nil)
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt for non-recoverable error, got %d", attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	attempts := 0
	err := fastRetry(2).Do(context.Background(), func(context.Context) error {
		attempts++
		return stderrors.New("always")
	})
	if err == nil || attempts != 2 {
		t.Fatalf("expected 2 failing attempts, got %d (err=%v)", attempts, err)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultRetryConfig().WithMaxAttempts(10).WithInitialDelay(time.Second)
	calls := 0
	err := cfg.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return stderrors.New("transient")
	})
	if !errors.HasCode(err, errors.CodeContextLost) {
		t.Fatalf("expected CodeContextLost, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(BreakerConfig{Name: "llm", FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Minute})
	cb.now = func() time.Time { return now }

	fail := func(context.Context) error { return stderrors.New("down") }
	ok := func(context.Context) error { return nil }

	_ = cb.Call(context.Background(), fail)
	_ = cb.Call(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %s", cb.State())
	}

	called := false
	err := cb.Call(context.Background(), func(context.Context) error { called = true; return nil })
	if err == nil || called {
		t.Fatalf("expected rejected call while open")
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Call(context.Background(), ok); err != nil {
		t.Fatalf("expected half-open probe to run, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Call(context.Background(), func(context.Context) error { return stderrors.New("x") })
	now = now.Add(2 * time.Second)
	_ = cb.Call(context.Background(), func(context.Context) error { return stderrors.New("x") })
	if cb.State() != StateOpen {
		t.Errorf("expected reopen after failed probe, got %s", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("expected closed after reset")
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.HasCode(err, errors.CodeTimeout) {
		t.Fatalf("expected CodeTimeout, got %v", err)
	}
	if !errors.IsRecoverable(err) {
		t.Errorf("timeouts should be recoverable")
	}

	if err := WithTimeout(context.Background(), 0, func(context.Context) error { return nil }); err != nil {
		t.Errorf("zero timeout should run fn directly, got %v", err)
	}
}

func TestPolicyRetriesTimeouts(t *testing.T) {
	p := Policy{Timeout: 5 * time.Millisecond, Retry: fastRetry(2)}
	calls := 0
	err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected retry after timeout to succeed, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestPolicyBreakerRejectionIsFinal(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	cb.Open()
	p := Policy{Retry: fastRetry(3), Breaker: cb}
	calls := 0
	err := p.Run(context.Background(), func(context.Context) error { calls++; return nil })
	if err == nil || calls != 0 {
		t.Fatalf("expected open breaker to reject without retries, calls=%d err=%v", calls, err)
	}
}
