package worker

import (
	"context"
	"testing"
	"time"
)

// admitted reports whether a call for key gets through within d. rate.Limiter
// fails fast when the wait would outlast the deadline.
func admitted(l *Limiter, key string, d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.Wait(ctx, key) == nil
}

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 1 {
		t.Errorf("expected default burst 1 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !admitted(limiter, "llm", 10*time.Millisecond) {
			t.Fatalf("call %d throttled with rate disabled", i)
		}
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(1, 1)
	if !admitted(limiter, "openai/gpt-4o-mini", 20*time.Millisecond) {
		t.Fatal("first openai call should pass")
	}
	if admitted(limiter, "openai/gpt-4o-mini", 20*time.Millisecond) {
		t.Error("second openai call should be throttled")
	}
	if !admitted(limiter, "service/http://localhost:8001", 20*time.Millisecond) {
		t.Error("other key should have its own bucket")
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(0.01, 1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := limiter.Wait(ctx, "llm"); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}
	cancel()
	if err := limiter.Wait(ctx, "llm"); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestLimiter_SetRate(t *testing.T) {
	limiter := NewLimiter(1, 1)
	limiter.SetRate("fast", 1000, 10)
	for i := 0; i < 10; i++ {
		if !admitted(limiter, "fast", 20*time.Millisecond) {
			t.Fatalf("burst call %d throttled", i)
		}
	}

	limiter.SetRate("local", 0, 0)
	for i := 0; i < 50; i++ {
		if !admitted(limiter, "local", 10*time.Millisecond) {
			t.Fatalf("call %d throttled on an unthrottled key", i)
		}
	}
}
