package emotion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/tribuna/internal/llm"
	"github.com/ppiankov/tribuna/internal/model"
	"github.com/ppiankov/tribuna/internal/util"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &util.StatusError{Code: http.StatusBadGateway}, true},
		{"throttled", fmt.Errorf("wrapped: %w", &util.StatusError{Code: http.StatusTooManyRequests}), true},
		{"bad request", &util.StatusError{Code: http.StatusBadRequest}, false},
		{"openai throttled", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"openai auth", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, false},
		{"openai request 503", &openai.RequestError{HTTPStatusCode: http.StatusServiceUnavailable, Err: errors.New("down")}, true},
		{"refused", fmt.Errorf("execute request: %w", syscall.ECONNREFUSED), true},
		{"plain", errors.New("label not recognised"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(context.Background(), tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if isRetryable(ctx, &util.StatusError{Code: http.StatusBadGateway}) {
		t.Error("nothing is retried after cancellation")
	}
}

// flakyProvider fails with a throttling error a fixed number of times.
type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Name() string                        { return "flaky" }
func (p *flakyProvider) IsAvailable(ctx context.Context) bool { return true }
func (p *flakyProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, &util.StatusError{Code: http.StatusTooManyRequests, Message: "rate limited"}
	}
	return &llm.CompletionResponse{Text: "anger"}, nil
}

func TestLLMClassifier_RetriesThrottling(t *testing.T) {
	waits := noSleep(t)

	p := &flakyProvider{failures: 2}
	got, err := NewLLMClassifier(p, "m").Classify(context.Background(), Request{Text: "¡Es una vergüenza!"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if got != model.EmotionAnger {
		t.Errorf("got %q, want anger", got)
	}
	if p.calls != 3 || len(*waits) != 2 {
		t.Errorf("calls=%d waits=%v", p.calls, *waits)
	}

	p = &flakyProvider{failures: maxAttempts}
	if _, err := NewLLMClassifier(p, "m").Classify(context.Background(), Request{Text: "x"}); err == nil {
		t.Error("expected error after exhausting attempts")
	}
}
