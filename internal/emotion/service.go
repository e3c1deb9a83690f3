package emotion

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/tribuna/internal/model"
	"github.com/ppiankov/tribuna/internal/util"
)

// ServiceClassifier calls an emotion detection service exposing POST /detect.
type ServiceClassifier struct {
	baseURL    string
	httpClient *http.Client
}

type detectRequest struct {
	Text string `json:"text"`
}

type detectScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type detectResponse struct {
	Emotions        []detectScore `json:"emotions"`
	DominantEmotion string        `json:"dominant_emotion"`
}

func NewServiceClassifier(baseURL string, timeout time.Duration, httpProxy, httpsProxy, noProxy string) *ServiceClassifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ServiceClassifier{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: util.NewHTTPClient(timeout, httpProxy, httpsProxy, noProxy),
	}
}

func (s *ServiceClassifier) Name() string {
	return "service/" + s.baseURL
}

// Classify scores single sentences, so neighbouring context is not sent.
func (s *ServiceClassifier) Classify(ctx context.Context, req Request) (model.Emotion, error) {
	var resp *detectResponse
	err := withRetry(ctx, func() error {
		var err error
		resp, err = s.detect(ctx, req.Text)
		return err
	})
	if err != nil {
		return "", err
	}
	return dominant(resp)
}

func (s *ServiceClassifier) detect(ctx context.Context, text string) (*detectResponse, error) {
	var out detectResponse
	if err := util.PostJSON(ctx, s.httpClient, s.baseURL+"/detect", nil, detectRequest{Text: text}, &out, nil); err != nil {
		return nil, fmt.Errorf("emotion service: %w", err)
	}
	return &out, nil
}

// dominant prefers the service's own pick and falls back to the top score.
func dominant(resp *detectResponse) (model.Emotion, error) {
	if e, ok := model.ParseEmotion(resp.DominantEmotion); ok {
		return e, nil
	}
	best := -1.0
	var label string
	for _, s := range resp.Emotions {
		if s.Score > best {
			best, label = s.Score, s.Label
		}
	}
	if e, ok := model.ParseEmotion(label); ok {
		return e, nil
	}
	if resp.DominantEmotion != "" {
		label = resp.DominantEmotion
	}
	return "", fmt.Errorf("label %q is not one of %v", label, model.Emotions)
}
