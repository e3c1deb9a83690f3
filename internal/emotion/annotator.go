package emotion

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/tribuna/internal/cache"
	"github.com/ppiankov/tribuna/internal/model"
	"github.com/ppiankov/tribuna/internal/worker"
)

// Outcome of one sentence classification.
type Outcome string

const (
	OutcomeClassified Outcome = "classified"
	OutcomeCached     Outcome = "cached"
	OutcomeFailed     Outcome = "failed"
)

// Annotator writes an emotion label on every Sentence node. It never touches
// structure, spans or ordering.
type Annotator struct {
	classifier Classifier
	limiter    *worker.Limiter
	cache      cache.Cache
	cacheTTL   time.Duration
	workers    int
	context    int
	observe    func(Outcome)
	log        *logrus.Entry
}

// Option configures an Annotator.
type Option func(*Annotator)

// WithLimiter throttles backend calls. All calls share one bucket per classifier.
func WithLimiter(l *worker.Limiter) Option {
	return func(a *Annotator) { a.limiter = l }
}

// WithCache stores labels keyed by classifier, text and context.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(a *Annotator) { a.cache, a.cacheTTL = c, ttl }
}

// WithWorkers bounds concurrent backend calls.
func WithWorkers(n int) Option {
	return func(a *Annotator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithContext sends n neighbouring sentences on each side.
func WithContext(n int) Option {
	return func(a *Annotator) {
		if n >= 0 {
			a.context = n
		}
	}
}

// WithObserver is called once per sentence with its outcome.
func WithObserver(fn func(Outcome)) Option {
	return func(a *Annotator) { a.observe = fn }
}

// WithLogger sets where classification failures are logged.
func WithLogger(log *logrus.Entry) Option {
	return func(a *Annotator) {
		if log != nil {
			a.log = log
		}
	}
}

// NewAnnotator labels sentences with c; without options it runs unthrottled and uncached.
func NewAnnotator(c Classifier, opts ...Option) *Annotator {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	a := &Annotator{
		classifier: c,
		cache:      cache.Nop{},
		workers:    4,
		observe:    func(Outcome) {},
		log:        logrus.NewEntry(quiet),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type result struct {
	label   model.Emotion
	err     error
	outcome Outcome
}

// Annotate labels every Sentence of doc in place and returns one
// classification_failed diagnostic per sentence left unlabelled. Previous
// labels are overwritten, and cleared when classification fails.
func (a *Annotator) Annotate(ctx context.Context, doc *model.Document) []model.Diagnostic {
	if doc == nil || doc.Root == nil {
		return nil
	}
	sentences := doc.Root.Sentences()
	if len(sentences) == 0 {
		return nil
	}

	texts := make([]string, len(sentences))
	for i, s := range sentences {
		if s.Sentence != nil {
			texts[i] = s.Sentence.Text
		}
	}

	started := time.Now()
	results := make([]result, len(sentences))
	var wg sync.WaitGroup

	semaphore := make(chan struct{}, a.workers)

	for i := range sentences {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				results[idx] = result{err: ctx.Err(), outcome: OutcomeFailed}
				return
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			results[idx] = a.classify(ctx, a.request(texts, idx))
		}(i)
	}

	wg.Wait()

	var diags []model.Diagnostic
	counts := make(map[Outcome]int)
	for i, s := range sentences {
		r := results[i]
		counts[r.outcome]++
		a.observe(r.outcome)

		if s.Sentence == nil {
			continue
		}
		if r.err != nil {
			s.Sentence.Emotion = ""
			diags = append(diags, model.Diagnostic{
				Code:    model.DiagClassificationFailed,
				Kind:    model.KindSentence,
				Node:    s.ID,
				Message: r.err.Error(),
			})
			a.log.WithField("node", s.ID).WithError(r.err).Debug("Classification failed")
			continue
		}
		s.Sentence.Emotion = r.label
	}

	a.log.WithFields(logrus.Fields{
		"classifier": a.classifier.Name(),
		"sentences":  len(sentences),
		"classified": counts[OutcomeClassified],
		"cached":     counts[OutcomeCached],
		"failed":     counts[OutcomeFailed],
		"duration":   time.Since(started).Round(time.Millisecond),
	}).Info("Annotated emotions")

	return diags
}

func (a *Annotator) request(texts []string, i int) Request {
	lo := max(0, i-a.context)
	hi := min(len(texts), i+1+a.context)
	return Request{
		Text:   texts[i],
		Before: texts[lo:i],
		After:  texts[i+1 : hi],
	}
}

func (a *Annotator) classify(ctx context.Context, req Request) result {
	key := cache.Key(a.classifier.Name(), strings.Join(req.Before, "\n"), req.Text, strings.Join(req.After, "\n"))

	if b, ok := a.cache.Get(key); ok {
		if label, ok := model.ParseEmotion(string(b)); ok {
			return result{label: label, outcome: OutcomeCached}
		}
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, a.classifier.Name()); err != nil {
			return result{err: fmt.Errorf("rate limiter: %w", err), outcome: OutcomeFailed}
		}
	}

	raw, err := a.classifier.Classify(ctx, req)
	if err != nil {
		return result{err: err, outcome: OutcomeFailed}
	}
	label, ok := model.ParseEmotion(string(raw))
	if !ok {
		return result{err: fmt.Errorf("label %q is not one of %v", raw, model.Emotions), outcome: OutcomeFailed}
	}

	if err := a.cache.Set(key, []byte(label), a.cacheTTL); err != nil {
		a.log.WithError(err).Debug("Cache write failed")
	}
	return result{label: label, outcome: OutcomeClassified}
}
