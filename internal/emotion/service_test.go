package emotion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/tribuna/internal/model"
)

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	orig := sleepFunc
	sleepFunc = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { sleepFunc = orig })
	return &waits
}

func TestServiceClassifier_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req detectRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Text != "¡Qué alegría!" {
			t.Errorf("unexpected text %q", req.Text)
		}
		_, _ = w.Write([]byte(`{"emotions": [{"label": "joy", "score": 0.91}], "dominant_emotion": "joy"}`))
	}))
	defer server.Close()

	c := NewServiceClassifier(server.URL+"/", 5*time.Second, "", "", "")
	got, err := c.Classify(context.Background(), Request{Text: "¡Qué alegría!"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if got != model.EmotionJoy {
		t.Errorf("got %q, want joy", got)
	}
}

func TestServiceClassifier_FallsBackToTopScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"emotions": [{"label": "fear", "score": 0.2}, {"label": "sadness", "score": 0.7}]}`))
	}))
	defer server.Close()

	got, err := NewServiceClassifier(server.URL, 0, "", "", "").Classify(context.Background(), Request{Text: "x"})
	if err != nil || got != model.EmotionSadness {
		t.Errorf("got %q, %v; want sadness", got, err)
	}
}

func TestServiceClassifier_UnknownLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"dominant_emotion": "others"}`))
	}))
	defer server.Close()

	_, err := NewServiceClassifier(server.URL, 0, "", "", "").Classify(context.Background(), Request{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "others") {
		t.Errorf("expected label error, got %v", err)
	}
}

func TestServiceClassifier_RetriesServerErrors(t *testing.T) {
	waits := noSleep(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"dominant_emotion": "neutral"}`))
	}))
	defer server.Close()

	got, err := NewServiceClassifier(server.URL, 0, "", "", "").Classify(context.Background(), Request{Text: "x"})
	if err != nil || got != model.EmotionNeutral {
		t.Fatalf("got %q, %v", got, err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
	if len(*waits) != 2 || (*waits)[0] != time.Second || (*waits)[1] != 2*time.Second {
		t.Errorf("unexpected backoff: %v", *waits)
	}
}

func TestServiceClassifier_GivesUp(t *testing.T) {
	noSleep(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewServiceClassifier(server.URL, 0, "", "", "").Classify(context.Background(), Request{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected 429 error, got %v", err)
	}
	if calls.Load() != maxAttempts {
		t.Errorf("expected %d calls, got %d", maxAttempts, calls.Load())
	}
}

func TestServiceClassifier_NoRetryOnClientError(t *testing.T) {
	noSleep(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("text is required"))
	}))
	defer server.Close()

	_, err := NewServiceClassifier(server.URL, 0, "", "", "").Classify(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "text is required") {
		t.Errorf("expected client error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestNew(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.APIKey = "test-key"
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Name() != "openai/gpt-4o-mini" {
		t.Errorf("unexpected name %q", c.Name())
	}

	cfg.Emotion.Backend = "service"
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected error without service URL")
	}
	cfg.Emotion.ServiceURL = "http://localhost:8001"
	if c, err := New(cfg, nil); err != nil || !strings.HasPrefix(c.Name(), "service/") {
		t.Errorf("unexpected service classifier: %v, %v", c, err)
	}

	cfg.Emotion.Backend = "llm"
	cfg.LLM.Provider = ""
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected error without provider")
	}
}
