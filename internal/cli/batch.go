package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ppiankov/tribuna/internal/cache"
	"github.com/ppiankov/tribuna/internal/catalog"
	"github.com/ppiankov/tribuna/internal/emotion"
	"github.com/ppiankov/tribuna/internal/metrics"
	"github.com/ppiankov/tribuna/internal/model"
	"github.com/ppiankov/tribuna/internal/pipeline"
	"github.com/ppiankov/tribuna/internal/worker"
)

const rule = "═══════════════════════════════════════════════════════════"

// stageOptions are the flags shared by every stage command.
type stageOptions struct {
	listFile     string
	timeout      time.Duration
	skipEmotions bool
}

// stageTitles label the banner of each stage.
var stageTitles = map[string]string{
	pipeline.StageCompile:  "Tribuna Compile",
	pipeline.StageEmotions: "Tribuna Emotions",
	pipeline.StageReport:   "Tribuna Report",
	pipeline.StageValidate: "Tribuna Validate",
	pipeline.StageRun:      "Tribuna Run",
}

// newStageCommand builds the command running stage over a set of debates.
func newStageCommand(stage, short, long string) *cobra.Command {
	opts := &stageOptions{}
	cmd := &cobra.Command{
		Use:   stage + " [debate...]",
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, stage, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.listFile, "file", "f", "", "read debate IDs from file (one per line)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "total timeout for the stage (0 = none)")
	if stage == pipeline.StageRun {
		cmd.Flags().BoolVar(&opts.skipEmotions, "skip-emotions", false, "compile and report without emotion annotation")
	}
	return cmd
}

// runStage processes every selected debate with one stage. Debates run
// concurrently; a failing debate is reported and never stops its siblings.
func runStage(cmd *cobra.Command, stage string, args []string, opts *stageOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, verbose || cfg.Output.Verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	m := metrics.New()
	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logrus.NewEntry(logger)),
		pipeline.WithMetrics(m),
	}

	var cat *catalog.Catalog
	if cfg.Catalog.Enabled {
		cat, err = catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer func() { _ = cat.Close() }()
		pipeOpts = append(pipeOpts, pipeline.WithCatalog(cat))
	}

	if stage == pipeline.StageEmotions || (stage == pipeline.StageRun && !opts.skipEmotions) {
		annotator, err := newAnnotator(ctx, cfg, m, logrus.NewEntry(logger))
		if err != nil {
			return err
		}
		pipeOpts = append(pipeOpts, pipeline.WithAnnotator(annotator))
	}

	p := pipeline.NewPipeline(cfg, pipeOpts...)
	log := logrus.NewEntry(logger).WithFields(logrus.Fields{"run_id": p.RunID(), "stage": stage})

	runner, err := p.Runner(stage)
	if err != nil {
		return err
	}
	if stage == pipeline.StageCompile || stage == pipeline.StageRun {
		_, ignored, err := p.Loader().LayerDirs()
		if err != nil {
			return err
		}
		if len(ignored) > 0 {
			log.WithField("dirs", ignored).Warn("Ignoring annotation directories that name no layer")
		}
	}
	debates, err := selectDebates(p, stage, args, opts.listFile)
	if err != nil {
		return err
	}
	if len(debates) == 0 {
		return fmt.Errorf("no debates found (corpus: %s, output: %s)", cfg.Corpus.Dir, cfg.Output.Dir)
	}

	fmt.Fprintf(os.Stderr, "\n%s\n  %s\n%s\n\n", rule, stageTitles[stage], rule)
	fmt.Fprintf(os.Stderr, "  Corpus:       %s\n", cfg.Corpus.Dir)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", cfg.Output.Dir)
	fmt.Fprintf(os.Stderr, "  Debates:      %d\n", len(debates))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.Concurrency.Workers)
	if stage == pipeline.StageEmotions || (stage == pipeline.StageRun && !opts.skipEmotions) {
		fmt.Fprintf(os.Stderr, "  Emotions:     %s\n", classifierLabel(cfg))
	}
	fmt.Fprintf(os.Stderr, "\n")

	started := time.Now()
	run := catalog.Run{ID: p.RunID(), Command: stage, StartedAt: started}
	if cat != nil {
		if err := cat.BeginRun(ctx, run); err != nil {
			log.WithError(err).Warn("Failed to record run start")
		}
	}

	log.WithField("debates", len(debates)).Info("Stage started")
	results := worker.NewBatchProcessor(runner, cfg.Concurrency.Workers, log).Process(ctx, debates)

	summary := pipeline.RunSummary{
		Title:  stageTitles[stage] + " Complete",
		RunID:  p.RunID(),
		Total:  len(results),
		Output: cfg.Output.Dir,
	}
	for _, r := range results {
		if r.Error != nil {
			summary.Failures = append(summary.Failures, pipeline.Failure{Debate: r.Debate, Err: r.Error})
			continue
		}
		summary.Succeeded++
	}
	summary.Duration = time.Since(started)

	if cat != nil {
		run.FinishedAt = time.Now()
		run.Succeeded = summary.Succeeded
		run.Failed = len(summary.Failures)
		if err := cat.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			log.WithError(err).Warn("Failed to record run end")
		}
	}
	if cfg.Output.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			log.WithError(err).Warn("Failed to write metrics")
		}
	}

	p.Renderer().WriteSummary(os.Stderr, summary)
	log.WithFields(logrus.Fields{
		"succeeded": summary.Succeeded,
		"failed":    len(summary.Failures),
		"duration":  summary.Duration.Round(time.Millisecond),
	}).Info("Stage finished")

	if n := len(summary.Failures); n > 0 {
		return fmt.Errorf("%d of %d debates failed", n, summary.Total)
	}
	return nil
}

// selectDebates resolves the debates a stage works on: explicit arguments,
// then a list file, then everything available. Compile and run discover
// debates in the corpus; the other stages list compiled documents.
func selectDebates(p *pipeline.Pipeline, stage string, args []string, listFile string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if listFile != "" {
		return worker.ReadDebateList(listFile)
	}
	switch stage {
	case pipeline.StageCompile, pipeline.StageRun:
		ids, err := p.Loader().Discover()
		if err != nil {
			return nil, fmt.Errorf("discover debates: %w", err)
		}
		return ids, nil
	default:
		ids, err := p.Store().Debates()
		if err != nil {
			return nil, fmt.Errorf("list compiled debates: %w", err)
		}
		return ids, nil
	}
}

// newAnnotator wires the configured classifier with rate limiting, caching
// and metrics.
func newAnnotator(ctx context.Context, cfg *model.Config, m *metrics.Metrics, log *logrus.Entry) (*emotion.Annotator, error) {
	classifier, err := emotion.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("create emotion classifier: %w", err)
	}
	// Unreachable backends still run: every sentence then fails into a
	// classification_failed diagnostic.
	if !emotion.Available(ctx, classifier) {
		log.WithField("classifier", classifier.Name()).Warn("Emotion backend is not reachable")
	}

	opts := []emotion.Option{
		emotion.WithWorkers(cfg.Concurrency.ClassifierWorkers),
		emotion.WithContext(cfg.Emotion.Context),
		emotion.WithObserver(func(o emotion.Outcome) { m.ObserveClassification(string(o)) }),
		emotion.WithLogger(log),
	}
	opts = append(opts, emotion.WithLimiter(newLimiter(cfg, classifier.Name())))
	if cfg.Cache.Enabled {
		opts = append(opts, emotion.WithCache(cache.New(cfg.Cache), cfg.Cache.DiskTTL))
	}
	return emotion.NewAnnotator(classifier, opts...), nil
}

// newLimiter throttles calls keyed by classifier name, applying the
// backend's own rate when one is configured.
func newLimiter(cfg *model.Config, key string) *worker.Limiter {
	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	if r, ok := cfg.RateLimiting.Backends[cfg.Backend()]; ok {
		limiter.SetRate(key, r.RequestsPerSecond, r.BurstSize)
	}
	return limiter
}

func classifierLabel(cfg *model.Config) string {
	if cfg.Emotion.Backend == "service" {
		return "service " + cfg.Emotion.ServiceURL
	}
	return cfg.LLM.Provider + "/" + cfg.LLM.Model
}
