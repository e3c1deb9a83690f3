// Package pipeline runs the per-debate stages (compile, emotions, report,
// validate) and persists their artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ppiankov/tribuna/internal/catalog"
	"github.com/ppiankov/tribuna/internal/compiler"
	"github.com/ppiankov/tribuna/internal/corpus"
	"github.com/ppiankov/tribuna/internal/emotion"
	"github.com/ppiankov/tribuna/internal/metrics"
	"github.com/ppiankov/tribuna/internal/model"
	"github.com/ppiankov/tribuna/internal/validate"
	"github.com/ppiankov/tribuna/internal/worker"
)

// Stage names, also used as catalog and metric labels.
const (
	StageCompile  = "compile"
	StageEmotions = "emotions"
	StageReport   = "report"
	StageValidate = "validate"
	StageRun      = "run"
)

// ErrInvalidDocument is returned by Validate when a persisted document breaks
// a structural invariant.
var ErrInvalidDocument = errors.New("document violates invariants")

// Pipeline orchestrates the stages for one run. Every method works on a
// single debate and is safe to call concurrently for different debates.
type Pipeline struct {
	config    *model.Config
	runID     string
	loader    *corpus.Loader
	compiler  *compiler.Compiler
	store     *Store
	renderer  *Renderer
	annotator *emotion.Annotator
	catalog   *catalog.Catalog
	metrics   *metrics.Metrics
	log       *logrus.Entry
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAnnotator enables the emotions stage.
func WithAnnotator(a *emotion.Annotator) Option {
	return func(p *Pipeline) { p.annotator = a }
}

// WithCatalog records every stage outcome.
func WithCatalog(c *catalog.Catalog) Option {
	return func(p *Pipeline) { p.catalog = c }
}

// WithMetrics replaces the pipeline's own metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger; a nil log keeps output discarded.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithRunID overrides the generated run ID. An empty id is ignored.
func WithRunID(id string) Option {
	return func(p *Pipeline) {
		if id != "" {
			p.runID = id
		}
	}
}

// NewPipeline creates a new pipeline with the given configuration
func NewPipeline(cfg *model.Config, opts ...Option) *Pipeline {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	p := &Pipeline{
		config:   cfg,
		runID:    uuid.NewString(),
		loader:   corpus.NewLoader(cfg.Corpus),
		store:    NewStore(cfg.Output.Dir, cfg.Output.Pretty),
		renderer: NewRenderer(cfg.Output.IncludeFooter),
		metrics:  metrics.New(),
		log:      logrus.NewEntry(quiet),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("run_id", p.runID)
	p.compiler = compiler.New(p.log)
	return p
}

// RunID identifies this run in logs and the catalog.
func (p *Pipeline) RunID() string { return p.runID }

// Store holds compiled and annotated documents.
func (p *Pipeline) Store() *Store { return p.store }

// Renderer formats documents as Markdown.
func (p *Pipeline) Renderer() *Renderer { return p.renderer }

// Metrics is the registry stage outcomes are counted in.
func (p *Pipeline) Metrics() *metrics.Metrics { return p.metrics }

// Loader reads debate inputs from the corpus.
func (p *Pipeline) Loader() *corpus.Loader { return p.loader }

// Catalog is nil unless WithCatalog was given.
func (p *Pipeline) Catalog() *catalog.Catalog { return p.catalog }

// Runner adapts a stage to the batch processor.
func (p *Pipeline) Runner(stage string) (worker.Runner, error) {
	switch stage {
	case StageCompile:
		return worker.RunnerFunc(func(ctx context.Context, id string) error {
			_, err := p.Compile(ctx, id)
			return err
		}), nil
	case StageEmotions:
		if p.annotator == nil {
			return nil, fmt.Errorf("emotions stage needs a classifier")
		}
		return worker.RunnerFunc(p.Annotate), nil
	case StageReport:
		return worker.RunnerFunc(p.Report), nil
	case StageValidate:
		return worker.RunnerFunc(func(ctx context.Context, id string) error {
			_, err := p.Validate(ctx, id)
			return err
		}), nil
	case StageRun:
		return worker.RunnerFunc(p.Run), nil
	default:
		return nil, fmt.Errorf("unknown stage: %s", stage)
	}
}

// Run compiles a debate, annotates emotions when a classifier is configured
// and renders its report.
func (p *Pipeline) Run(ctx context.Context, id string) error {
	if _, err := p.Compile(ctx, id); err != nil {
		return err
	}
	if p.annotator != nil {
		if err := p.Annotate(ctx, id); err != nil {
			return err
		}
	}
	if p.config.Output.Markdown {
		return p.Report(ctx, id)
	}
	return nil
}

// Compile loads, compiles, validates and persists one debate.
func (p *Pipeline) Compile(ctx context.Context, id string) (res *compiler.Result, err error) {
	log := p.log.WithField("debate", id)
	started := time.Now()
	defer func() {
		p.record(ctx, StageCompile, id, started, err, res)
	}()

	in, err := p.loader.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err = p.compiler.Compile(id, p.config.Meta(id), in.Segments, in.Layers)
	if err != nil {
		return nil, err
	}
	// Records the loader could not decode never reached the compiler.
	for _, d := range in.Diagnostics {
		s := res.Stats[d.Kind]
		s.Input++
		s.Skipped++
		res.Stats[d.Kind] = s
	}
	res.Diagnostics = append(in.Diagnostics, res.Diagnostics...)
	p.metrics.ObserveCompile(time.Since(started), res.Stats)

	violations := append(validate.Check(res.Document), validate.CheckAccounting(res.Stats)...)
	for _, v := range violations {
		log.WithField("rule", v.Rule).Warn(v.Message)
	}
	res.Diagnostics = append(res.Diagnostics, validate.Diagnostics(violations)...)

	for _, d := range res.Diagnostics {
		log.WithFields(logrus.Fields{"code": d.Code, "kind": d.Kind, "source": d.Source}).Debug(d.Message)
	}

	if err := p.store.WriteDocument(id, res.Document); err != nil {
		return nil, fmt.Errorf("write document: %w", err)
	}
	if err := p.store.WriteDiagnostics(id, &DiagnosticsFile{
		Debate:      id,
		RunID:       p.runID,
		Stats:       res.Stats,
		Diagnostics: res.Diagnostics,
	}); err != nil {
		return nil, fmt.Errorf("write diagnostics: %w", err)
	}
	return res, nil
}

// Annotate labels the sentences of a compiled document in place. Earlier
// classification diagnostics are replaced; compile diagnostics are kept.
func (p *Pipeline) Annotate(ctx context.Context, id string) (err error) {
	if p.annotator == nil {
		return fmt.Errorf("no emotion classifier configured")
	}
	started := time.Now()
	var diags []model.Diagnostic
	var doc *model.Document
	defer func() {
		p.recordEntry(ctx, catalog.Entry{
			Debate:      id,
			Stage:       StageEmotions,
			Err:         err,
			Output:      p.store.DocumentPath(id),
			Sentences:   sentenceCount(doc),
			Duration:    time.Since(started),
			Diagnostics: diags,
		})
	}()

	doc, err = p.store.ReadDocument(id)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	file, err := p.store.ReadDiagnostics(id)
	if err != nil {
		return fmt.Errorf("read diagnostics: %w", err)
	}

	diags = p.annotator.Annotate(ctx, doc)
	if err := ctx.Err(); err != nil {
		// Keep the previous document rather than persist a run cut short.
		return err
	}

	kept := file.Diagnostics[:0]
	for _, d := range file.Diagnostics {
		if d.Code != model.DiagClassificationFailed {
			kept = append(kept, d)
		}
	}
	file.Diagnostics = append(kept, diags...)
	file.RunID = p.runID

	if err := p.store.WriteDocument(id, doc); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := p.store.WriteDiagnostics(id, file); err != nil {
		return fmt.Errorf("write diagnostics: %w", err)
	}
	return nil
}

// Report renders the Markdown report of a compiled document.
func (p *Pipeline) Report(ctx context.Context, id string) (err error) {
	started := time.Now()
	defer func() {
		p.recordEntry(ctx, catalog.Entry{
			Debate:   id,
			Stage:    StageReport,
			Err:      err,
			Output:   p.store.ReportPath(id),
			Duration: time.Since(started),
		})
	}()

	doc, err := p.store.ReadDocument(id)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	file, err := p.store.ReadDiagnostics(id)
	if err != nil {
		return fmt.Errorf("read diagnostics: %w", err)
	}
	if err := p.store.WriteReport(id, p.renderer.Markdown(doc, file)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Validate re-checks a persisted document. Violations are returned and also
// reported as ErrInvalidDocument.
func (p *Pipeline) Validate(ctx context.Context, id string) (vs []validate.Violation, err error) {
	started := time.Now()
	defer func() {
		p.recordEntry(ctx, catalog.Entry{
			Debate:      id,
			Stage:       StageValidate,
			Err:         err,
			Output:      p.store.DocumentPath(id),
			Duration:    time.Since(started),
			Diagnostics: validate.Diagnostics(vs),
		})
	}()

	doc, err := p.store.ReadDocument(id)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	vs = validate.Check(doc)

	file, err := p.store.ReadDiagnostics(id)
	if err != nil {
		return vs, fmt.Errorf("read diagnostics: %w", err)
	}
	vs = append(vs, validate.CheckAccounting(file.Stats)...)

	if len(vs) > 0 {
		return vs, fmt.Errorf("%w: %d violations", ErrInvalidDocument, len(vs))
	}
	return nil, nil
}

func (p *Pipeline) record(ctx context.Context, stage, id string, started time.Time, err error, res *compiler.Result) {
	e := catalog.Entry{
		Debate:   id,
		Stage:    stage,
		Err:      err,
		Duration: time.Since(started),
	}
	if res != nil {
		e.Output = p.store.DocumentPath(id)
		e.Sentences = sentenceCount(res.Document)
		e.Stats = res.Stats
		e.Diagnostics = res.Diagnostics
	}
	p.recordEntry(ctx, e)
}

// recordEntry updates metrics and the catalog. Catalog failures are logged,
// never returned: the artifacts on disk are the source of truth.
func (p *Pipeline) recordEntry(ctx context.Context, e catalog.Entry) {
	p.metrics.ObserveDebate(e.Stage, e.Err)
	p.metrics.ObserveDiagnostics(e.Diagnostics)

	log := p.log.WithFields(logrus.Fields{"debate": e.Debate, "stage": e.Stage})
	if e.Err != nil {
		log.WithError(e.Err).Warn("Stage failed")
	} else {
		log.WithField("duration", e.Duration.Round(time.Millisecond)).Debug("Stage complete")
	}

	if p.catalog == nil {
		return
	}
	e.RunID = p.runID
	// The catalog write must land even when the stage was cancelled.
	if err := p.catalog.Record(context.WithoutCancel(ctx), e); err != nil {
		log.WithError(err).Warn("Catalog write failed")
	}
}

func sentenceCount(doc *model.Document) int {
	if doc == nil || doc.Root == nil {
		return 0
	}
	return len(doc.Root.Sentences())
}
