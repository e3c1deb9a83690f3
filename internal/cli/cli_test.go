package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/tribuna/internal/model"
	"github.com/ppiankov/tribuna/internal/pipeline"
	"github.com/ppiankov/tribuna/internal/worker"
)

func TestDocumentSchema(t *testing.T) {
	b, err := documentSchema()
	if err != nil {
		t.Fatalf("documentSchema failed: %v", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(b, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	defs, ok := schema["$defs"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no $defs: %s", b)
	}
	for _, name := range []string{"Document", "Node", "Span", "DebateInfo"} {
		if _, ok := defs[name]; !ok {
			t.Errorf("missing definition %s", name)
		}
	}
	if !strings.Contains(string(b), `"schema_version"`) {
		t.Error("schema_version property missing")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".tribuna", "config.yaml")

	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# Tribuna Configuration File") {
		t.Errorf("unexpected header: %q", strings.SplitN(string(data), "\n", 2)[0])
	}

	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config does not parse: %v", err)
	}
	if cfg.Emotion.Backend != "llm" || cfg.Output.Dir != "compiled" {
		t.Errorf("defaults not written: %+v", cfg)
	}
	if len(cfg.Debates) == 0 {
		t.Error("debate metadata table missing")
	}

	if err := writeDefaultConfig(path); err == nil {
		t.Error("expected error when config already exists")
	}
}

func TestSelectDebates(t *testing.T) {
	dir := t.TempDir()
	cfg := model.DefaultConfig()
	cfg.Corpus.Dir = dir
	cfg.Output.Dir = filepath.Join(dir, "compiled")
	p := pipeline.NewPipeline(cfg)

	got, err := selectDebates(p, pipeline.StageCompile, []string{"2015-12-14"}, "")
	if err != nil || len(got) != 1 || got[0] != "2015-12-14" {
		t.Errorf("explicit args: %v, %v", got, err)
	}

	list := filepath.Join(dir, "debates.txt")
	if err := os.WriteFile(list, []byte("# comment\n2019-11-04\n\n2019-11-04\n2023-07-10\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = selectDebates(p, pipeline.StageReport, nil, list)
	if err != nil || strings.Join(got, ",") != "2019-11-04,2023-07-10" {
		t.Errorf("list file: %v, %v", got, err)
	}

	segDir := filepath.Join(dir, "segments")
	if err := os.MkdirAll(segDir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"2016-06-13.jsonl", "2008-02-25_segments.csv"} {
		if err := os.WriteFile(filepath.Join(segDir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	got, err = selectDebates(p, pipeline.StageCompile, nil, "")
	if err != nil || strings.Join(got, ",") != "2008-02-25,2016-06-13" {
		t.Errorf("discovery: %v, %v", got, err)
	}

	got, err = selectDebates(p, pipeline.StageValidate, nil, "")
	if err != nil || len(got) != 0 {
		t.Errorf("no compiled debates expected: %v, %v", got, err)
	}
}

func TestNewLogger(t *testing.T) {
	log := newLogger(model.LogConfig{Level: "warn", Format: "json"}, false)
	if log.GetLevel() != logrus.WarnLevel {
		t.Errorf("level = %v, want warn", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected JSON formatter, got %T", log.Formatter)
	}

	log = newLogger(model.LogConfig{Level: "bogus"}, true)
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("verbose should raise level to debug, got %v", log.GetLevel())
	}
}

func TestClassifierLabel(t *testing.T) {
	cfg := model.DefaultConfig()
	if got := classifierLabel(cfg); got != "openai/gpt-4o-mini" {
		t.Errorf("got %q", got)
	}
	cfg.Emotion.Backend = "service"
	cfg.Emotion.ServiceURL = "http://localhost:8001"
	if got := classifierLabel(cfg); got != "service http://localhost:8001" {
		t.Errorf("got %q", got)
	}
}

func TestNewLimiter_BackendRate(t *testing.T) {
	admitted := func(l *worker.Limiter, key string) bool {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		return l.Wait(ctx, key) == nil
	}

	cfg := model.DefaultConfig()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.Model = "llama3.1"
	limiter := newLimiter(cfg, "ollama/llama3.1")
	for i := 0; i < 30; i++ {
		if !admitted(limiter, "ollama/llama3.1") {
			t.Fatalf("local backend throttled at call %d", i)
		}
	}

	cfg = model.DefaultConfig()
	cfg.RateLimiting.BurstSize = 1
	limiter = newLimiter(cfg, "openai/gpt-4o-mini")
	if !admitted(limiter, "openai/gpt-4o-mini") {
		t.Fatal("first openai call should pass")
	}
	if admitted(limiter, "openai/gpt-4o-mini") {
		t.Error("openai should use the default free-tier rate")
	}
}
