package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Runner processes one debate end to end.
type Runner interface {
	Run(ctx context.Context, debate string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, debate string) error

func (f RunnerFunc) Run(ctx context.Context, debate string) error { return f(ctx, debate) }

// DebateJob runs one debate.
type DebateJob struct {
	Debate string
	Runner Runner
}

// Execute runs the debate and times it.
func (j *DebateJob) Execute(ctx context.Context) Result {
	start := time.Now()
	err := j.Runner.Run(ctx, j.Debate)
	return &DebateResult{Debate: j.Debate, Duration: time.Since(start), Error: err}
}

// DebateResult is the outcome of one debate job.
type DebateResult struct {
	Debate   string
	Duration time.Duration
	Error    error
}

// GetError returns the error from the debate result
func (r *DebateResult) GetError() error {
	return r.Error
}

// BatchProcessor runs many debates concurrently. A failing debate never affects
// the others.
type BatchProcessor struct {
	runner      Runner
	concurrency int
	log         *logrus.Entry
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(runner Runner, concurrency int, log *logrus.Entry) *BatchProcessor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BatchProcessor{runner: runner, concurrency: concurrency, log: log}
}

// Process runs every debate and returns results in input order.
func (b *BatchProcessor) Process(ctx context.Context, debates []string) []*DebateResult {
	if len(debates) == 0 {
		return []*DebateResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()
	for _, d := range debates {
		pool.Submit(&DebateJob{Debate: d, Runner: b.runner})
	}
	results := pool.Wait()

	out := make([]*DebateResult, len(results))
	for i, r := range results {
		dr, ok := r.(*DebateResult)
		if !ok {
			dr = &DebateResult{Debate: debates[i], Error: r.GetError()}
		}
		entry := b.log.WithFields(logrus.Fields{"debate": dr.Debate, "duration": dr.Duration.Round(time.Millisecond)})
		if dr.Error != nil {
			entry.WithError(dr.Error).Error("Debate failed")
		} else {
			entry.Debug("Debate done")
		}
		out[i] = dr
	}
	return out
}

// ReadDebateList reads debate IDs from a file, one per line. Blank lines and
// lines starting with # are ignored; duplicates are dropped.
func ReadDebateList(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var ids []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seen[line] {
			seen[line] = true
			ids = append(ids, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return ids, nil
}
