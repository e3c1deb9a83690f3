// Package emotion labels every Sentence of a compiled document with one emotion
// from a closed set.
package emotion

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/tribuna/internal/llm"
	"github.com/ppiankov/tribuna/internal/model"
)

// Request is one sentence plus optional neighbouring sentences.
type Request struct {
	Text   string
	Before []string
	After  []string
}

// Classifier maps a sentence to an emotion label.
type Classifier interface {
	// Name identifies backend and model; it scopes cache entries.
	Name() string
	Classify(ctx context.Context, req Request) (model.Emotion, error)
}

// LLMClassifier prompts a language model for a single label.
type LLMClassifier struct {
	provider llm.Provider
	model    string
	log      *logrus.Entry
}

// NewLLMClassifier asks p for labels using modelName.
func NewLLMClassifier(p llm.Provider, modelName string) *LLMClassifier {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	return &LLMClassifier{provider: p, model: modelName, log: logrus.NewEntry(quiet)}
}

// SetLogger routes raw model replies to log at debug level. A nil log is ignored.
func (c *LLMClassifier) SetLogger(log *logrus.Entry) {
	if log != nil {
		c.log = log
	}
}

// Name is the provider name and model joined by a slash.
func (c *LLMClassifier) Name() string {
	return c.provider.Name() + "/" + c.model
}

// IsAvailable asks the provider whether it can be reached.
func (c *LLMClassifier) IsAvailable(ctx context.Context) bool {
	return c.provider.IsAvailable(ctx)
}

// Available reports whether c can be reached. Classifiers that cannot tell
// are assumed available.
func Available(ctx context.Context, c Classifier) bool {
	checker, ok := c.(interface{ IsAvailable(context.Context) bool })
	return !ok || checker.IsAvailable(ctx)
}

// Classify retries throttled and failed provider calls; an unparseable
// reply is returned as an error without retrying.
func (c *LLMClassifier) Classify(ctx context.Context, req Request) (model.Emotion, error) {
	creq := llm.CompletionRequest{
		System: llm.EmotionSystemPrompt,
		Prompt: llm.BuildEmotionPrompt(req.Text, req.Before, req.After),
		Model:  c.model,
	}
	var resp *llm.CompletionResponse
	err := withRetry(ctx, func() error {
		var err error
		resp, err = c.provider.Complete(ctx, creq)
		return err
	})
	if err != nil {
		return "", err
	}
	c.log.WithFields(logrus.Fields{
		"classifier": c.Name(),
		"model":      resp.Model,
		"tokens":     resp.TokensUsed,
		"reply":      resp.Text,
	}).Debug("Model reply")
	return llm.ParseEmotionReply(resp.Text)
}

// New builds the classifier selected by cfg.Emotion.Backend. Raw LLM replies
// go to log at debug level; a nil log discards them.
func New(cfg *model.Config, log *logrus.Entry) (Classifier, error) {
	switch cfg.Emotion.Backend {
	case "", "llm":
		provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
		if err != nil {
			return nil, fmt.Errorf("create LLM provider: %w", err)
		}
		if provider == nil {
			return nil, fmt.Errorf("emotion backend llm needs llm.provider to be set")
		}
		c := NewLLMClassifier(provider, cfg.LLM.Model)
		c.SetLogger(log)
		return c, nil

	case "service":
		if cfg.Emotion.ServiceURL == "" {
			return nil, fmt.Errorf("emotion backend service needs emotion.service_url")
		}
		timeout := time.Duration(cfg.LLM.Timeout) * time.Second
		return NewServiceClassifier(cfg.Emotion.ServiceURL, timeout, cfg.LLM.HTTPProxy, cfg.LLM.HTTPSProxy, cfg.LLM.NoProxy), nil

	default:
		return nil, fmt.Errorf("unknown emotion backend: %s (supported: llm, service)", cfg.Emotion.Backend)
	}
}
