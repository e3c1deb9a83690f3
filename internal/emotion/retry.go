package emotion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/tribuna/internal/util"
)

// maxAttempts bounds calls per sentence; waits grow 1s, 2s.
const maxAttempts = 3

// sleepFunc waits between retries (injectable for tests)
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry runs call until it succeeds, fails permanently or maxAttempts is
// reached.
func withRetry(ctx context.Context, call func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if !isRetryable(ctx, err) {
			return err
		}
		if attempt < maxAttempts-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			if serr := sleepFunc(ctx, backoff); serr != nil {
				return serr
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, err)
}

// isRetryable reports 5xx, 429 and transient network failures. Nothing is
// retried once the caller's context is done.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *util.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ae *openai.APIError
	if errors.As(err, &ae) {
		return retryableStatus(ae.HTTPStatusCode)
	}
	var re *openai.RequestError
	if errors.As(err, &re) {
		return retryableStatus(re.HTTPStatusCode)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}
