package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/tribuna/internal/catalog"
	"github.com/ppiankov/tribuna/internal/emotion"
	"github.com/ppiankov/tribuna/internal/model"
	"github.com/ppiankov/tribuna/internal/worker"
)

const debateID = "2015-12-14"

const fixtureSegments = `{"speaker":"Moderador","start":0,"end":9,"text":"Buenas noches y bienvenidos."}
{"speaker":"Rajoy","party":"PP","start":10,"end":19,"text":"Hemos creado un millón de empleos."}
{"speaker":"Sánchez","party":"PSOE","start":20,"end":29,"text":"Eso es una vergüenza."}
{"speaker":"Rajoy","party":"PP","start":30,"end":39,"text":"Bajaremos los impuestos."}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fixture builds a corpus with one full debate and one whose segment file is empty.
func fixture(t *testing.T) *model.Config {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "segments", debateID+".jsonl"), fixtureSegments)
	writeFile(t, filepath.Join(dir, "segments", "2023-07-10.jsonl"), "")
	writeFile(t, filepath.Join(dir, "annotations", "blocks", debateID+".jsonl"),
		`{"id":"b-1","span":{"from":0,"to":3},"title":"Economía"}`+"\n")
	writeFile(t, filepath.Join(dir, "annotations", "claims", debateID+".jsonl"),
		`{"id":"c-1","span":{"from":1,"to":2},"statement":"Se han creado un millón de empleos"}`+"\n"+
			`{"id":"c-2","span":{"from":1,"to":2},"statement":"Se han creado un millón de empleos"}`+"\n"+
			`{"id":"c-3","span":{"from":40,"to":42},"statement":"Fuera de rango"}`+"\n"+
			`not json`+"\n")
	writeFile(t, filepath.Join(dir, "annotations", "proposals", debateID+".jsonl"),
		`{"id":"p-1","span":{"from":3,"to":3},"summary":"Bajar impuestos"}`+"\n")

	cfg := model.DefaultConfig()
	cfg.Corpus.Dir = dir
	cfg.Output.Dir = filepath.Join(dir, "compiled")
	cfg.Catalog.Path = filepath.Join(dir, "compiled", "catalog.db")
	return cfg
}

type stubClassifier struct{ fail string }

func (s stubClassifier) Name() string { return "stub" }

func (s stubClassifier) Classify(_ context.Context, req emotion.Request) (model.Emotion, error) {
	switch {
	case s.fail != "" && strings.Contains(req.Text, s.fail):
		return "", errors.New("backend unavailable")
	case strings.Contains(req.Text, "vergüenza"):
		return model.EmotionAnger, nil
	default:
		return model.EmotionNeutral, nil
	}
}

func TestCompile_PersistsDocumentAndDiagnostics(t *testing.T) {
	cfg := fixture(t)
	p := NewPipeline(cfg, WithRunID("run-1"))

	res, err := p.Compile(context.Background(), debateID)
	require.NoError(t, err)

	root := res.Document.Root
	require.Len(t, root.Children, 2)
	block := root.Children[0]
	assert.Equal(t, model.KindBlock, block.Kind)

	claims := root.Find(model.KindClaim)
	require.Len(t, claims, 2)
	assert.Equal(t, model.Pos{Segment: 3}, claims[1].Span.Start, "duplicate claim starts where the first ends")
	assert.True(t, claims[1].HasFlag(model.FlagTruncated))

	s := res.Stats[model.KindClaim]
	assert.Equal(t, 4, s.Input, "undecodable line is counted")
	assert.Equal(t, 2, s.Skipped, "out-of-range span and undecodable line")
	assert.True(t, s.Accounted())

	file, err := p.Store().ReadDiagnostics(debateID)
	require.NoError(t, err)
	assert.Equal(t, "run-1", file.RunID)
	assert.Equal(t, res.Diagnostics, file.Diagnostics)

	want, err := json.Marshal(res.Document)
	require.NoError(t, err)
	doc, err := p.Store().ReadDocument(debateID)
	require.NoError(t, err)
	got, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestCompile_Deterministic(t *testing.T) {
	cfg := fixture(t)
	p := NewPipeline(cfg)

	_, err := p.Compile(context.Background(), debateID)
	require.NoError(t, err)
	first, err := os.ReadFile(p.Store().DocumentPath(debateID))
	require.NoError(t, err)

	_, err = NewPipeline(cfg).Compile(context.Background(), debateID)
	require.NoError(t, err)
	second, err := os.ReadFile(p.Store().DocumentPath(debateID))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestCompile_EmptyDebateDoesNotStopSiblings(t *testing.T) {
	cfg := fixture(t)
	p := NewPipeline(cfg)

	runner, err := p.Runner(StageCompile)
	require.NoError(t, err)
	results := worker.NewBatchProcessor(runner, 2, nil).Process(context.Background(), []string{"2023-07-10", debateID})

	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Error, model.ErrEmptyInput)
	assert.NoError(t, results[1].Error)
	assert.FileExists(t, p.Store().DocumentPath(debateID))
	assert.NoFileExists(t, p.Store().DocumentPath("2023-07-10"))
}

func TestAnnotate(t *testing.T) {
	cfg := fixture(t)
	ctx := context.Background()

	_, err := NewPipeline(cfg).Compile(ctx, debateID)
	require.NoError(t, err)

	p := NewPipeline(cfg, WithAnnotator(emotion.NewAnnotator(stubClassifier{fail: "impuestos"})))
	require.NoError(t, p.Annotate(ctx, debateID))

	doc, err := p.Store().ReadDocument(debateID)
	require.NoError(t, err)
	var labels []model.Emotion
	for _, s := range doc.Root.Sentences() {
		labels = append(labels, s.Sentence.Emotion)
	}
	assert.Equal(t, []model.Emotion{model.EmotionNeutral, model.EmotionNeutral, model.EmotionAnger, ""}, labels)

	file, err := p.Store().ReadDiagnostics(debateID)
	require.NoError(t, err)
	failed := 0
	for _, d := range file.Diagnostics {
		if d.Code == model.DiagClassificationFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.NotEmpty(t, file.Stats, "compile stats are kept")

	// A second pass with a healthy backend replaces the failure.
	p = NewPipeline(cfg, WithAnnotator(emotion.NewAnnotator(stubClassifier{})))
	require.NoError(t, p.Annotate(ctx, debateID))
	file, err = p.Store().ReadDiagnostics(debateID)
	require.NoError(t, err)
	for _, d := range file.Diagnostics {
		assert.NotEqual(t, model.DiagClassificationFailed, d.Code)
	}
}

func TestAnnotate_Cancelled(t *testing.T) {
	cfg := fixture(t)
	_, err := NewPipeline(cfg).Compile(context.Background(), debateID)
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "debate-"+debateID+".json"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPipeline(cfg, WithAnnotator(emotion.NewAnnotator(stubClassifier{})))
	assert.ErrorIs(t, p.Annotate(ctx, debateID), context.Canceled)

	after, err := os.ReadFile(p.Store().DocumentPath(debateID))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAnnotate_RequiresClassifier(t *testing.T) {
	p := NewPipeline(fixture(t))
	assert.Error(t, p.Annotate(context.Background(), debateID))
	_, err := p.Runner(StageEmotions)
	assert.Error(t, err)
}

func TestRun_WritesReport(t *testing.T) {
	cfg := fixture(t)
	p := NewPipeline(cfg, WithAnnotator(emotion.NewAnnotator(stubClassifier{})))

	require.NoError(t, p.Run(context.Background(), debateID))

	md, err := os.ReadFile(p.Store().ReportPath(debateID))
	require.NoError(t, err)
	report := string(md)
	assert.Contains(t, report, "# Debate 2015-12-14")
	assert.Contains(t, report, "Economía")
	assert.Contains(t, report, "Bajar impuestos")
	assert.Contains(t, report, "| anger | 1 | 25.0% |")
	assert.Contains(t, report, "| Rajoy |")
	assert.Contains(t, report, "- skipped: 2")
}

func TestValidate(t *testing.T) {
	cfg := fixture(t)
	p := NewPipeline(cfg)
	ctx := context.Background()

	_, err := p.Compile(ctx, debateID)
	require.NoError(t, err)

	vs, err := p.Validate(ctx, debateID)
	require.NoError(t, err)
	assert.Empty(t, vs)

	// Break containment: a sentence that leaves its block.
	doc, err := p.Store().ReadDocument(debateID)
	require.NoError(t, err)
	sentence := doc.Root.Sentences()[0]
	sentence.Span = model.SegmentSpan(0, 9)
	require.NoError(t, p.Store().WriteDocument(debateID, doc))

	vs, err = p.Validate(ctx, debateID)
	assert.ErrorIs(t, err, ErrInvalidDocument)
	assert.NotEmpty(t, vs)
}

func TestCatalogRecordsStages(t *testing.T) {
	cfg := fixture(t)
	cat, err := catalog.Open(cfg.Catalog.Path)
	require.NoError(t, err)
	defer func() { _ = cat.Close() }()

	p := NewPipeline(cfg, WithCatalog(cat), WithRunID("run-7"))
	ctx := context.Background()
	_, _ = p.Compile(ctx, "2023-07-10")
	_, err = p.Compile(ctx, debateID)
	require.NoError(t, err)
	require.NoError(t, p.Report(ctx, debateID))

	rows, err := cat.Debates(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, debateID, rows[0].Debate)
	assert.Equal(t, StageCompile, rows[0].Stage)
	assert.Equal(t, catalog.StatusOK, rows[0].Status)
	assert.Equal(t, 4, rows[0].Sentences)
	assert.Equal(t, "run-7", rows[0].RunID)
	assert.Equal(t, StageReport, rows[1].Stage)

	assert.Equal(t, "2023-07-10", rows[2].Debate)
	assert.Equal(t, catalog.StatusFailed, rows[2].Status)

	stats, err := cat.LayerStats(ctx, debateID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[model.KindClaim].Placed)
	assert.Equal(t, 4, stats[model.KindClaim].Input)
}

func TestStoreDebates(t *testing.T) {
	s := NewStore(t.TempDir(), false)
	doc := &model.Document{SchemaVersion: model.SchemaVersion, Root: &model.Node{ID: "debate", Kind: model.KindDebate}}
	require.NoError(t, s.WriteDocument("2019-11-04", doc))
	require.NoError(t, s.WriteDocument("1993-05-24", doc))
	require.NoError(t, s.WriteDiagnostics("1993-05-24", &DiagnosticsFile{Debate: "1993-05-24"}))

	ids, err := s.Debates()
	require.NoError(t, err)
	assert.Equal(t, []string{"1993-05-24", "2019-11-04"}, ids)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp_"), "temp file left behind: %s", e.Name())
	}
}

func TestRunner_UnknownStage(t *testing.T) {
	_, err := NewPipeline(fixture(t)).Runner("publish")
	assert.Error(t, err)
}
