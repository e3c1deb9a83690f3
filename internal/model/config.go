package model

import (
	"runtime"
	"strings"
	"time"
)

// Config holds every setting of one pipeline invocation. Stages receive it
// explicitly; nothing is kept in package state.
type Config struct {
	Corpus       CorpusConfig          `yaml:"corpus" mapstructure:"corpus"`
	Output       OutputConfig          `yaml:"output" mapstructure:"output"`
	Concurrency  ConcurrencyConfig     `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitConfig       `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	LLM          LLMConfig             `yaml:"llm" mapstructure:"llm"`
	Emotion      EmotionConfig         `yaml:"emotion" mapstructure:"emotion"`
	Cache        CacheConfig           `yaml:"cache" mapstructure:"cache"`
	Catalog      CatalogConfig         `yaml:"catalog" mapstructure:"catalog"`
	Log          LogConfig             `yaml:"log" mapstructure:"log"`
	Debates      map[string]DebateMeta `yaml:"debates" mapstructure:"debates"`
}

// CorpusConfig locates the upstream inputs.
type CorpusConfig struct {
	Dir            string `yaml:"dir" mapstructure:"dir"`
	SegmentsGlob   string `yaml:"segments_glob" mapstructure:"segments_glob"`
	AnnotationsDir string `yaml:"annotations_dir" mapstructure:"annotations_dir"`
}

// OutputConfig controls where and how compiled documents are written.
type OutputConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	Pretty        bool   `yaml:"pretty" mapstructure:"pretty"`
	Markdown      bool   `yaml:"markdown" mapstructure:"markdown"`
	IncludeFooter bool   `yaml:"include_footer" mapstructure:"include_footer"`
	MetricsFile   string `yaml:"metrics_file" mapstructure:"metrics_file"`
	Verbose       bool   `yaml:"-" mapstructure:"verbose"`
}

// ConcurrencyConfig bounds the worker pools.
type ConcurrencyConfig struct {
	Workers           int `yaml:"workers" mapstructure:"workers"`
	ClassifierWorkers int `yaml:"classifier_workers" mapstructure:"classifier_workers"`
}

// RateLimitConfig throttles classification backend calls. Backends overrides
// the default per backend (openai, anthropic, ollama, service).
type RateLimitConfig struct {
	RequestsPerSecond float64                `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int                    `yaml:"burst_size" mapstructure:"burst_size"`
	Backends          map[string]BackendRate `yaml:"backends,omitempty" mapstructure:"backends"`
}

// BackendRate is the rate of one backend. A zero rate means unthrottled.
type BackendRate struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size,omitempty" mapstructure:"burst_size"`
}

// Backend names the classification backend whose rate applies to cfg.
func (c *Config) Backend() string {
	if c.Emotion.Backend == "service" {
		return "service"
	}
	return strings.ToLower(c.LLM.Provider)
}

// LLMConfig configures the language-model emotion backend.
type LLMConfig struct {
	Provider   string `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model      string `yaml:"model" mapstructure:"model"`
	APIKey     string `yaml:"-" mapstructure:"api_key"`
	BaseURL    string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout    int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens  int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// EmotionConfig selects the classification backend.
type EmotionConfig struct {
	Backend    string `yaml:"backend" mapstructure:"backend"` // llm or service
	ServiceURL string `yaml:"service_url,omitempty" mapstructure:"service_url"`
	Context    int    `yaml:"context" mapstructure:"context"` // neighbouring sentences shown to the model
}

// CacheConfig controls the classification cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// CatalogConfig locates the SQLite corpus catalog.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// DebateMeta is per-debate metadata not present in the transcripts.
type DebateMeta struct {
	Date         string `yaml:"date,omitempty" mapstructure:"date"`
	ElectionDate string `yaml:"election_date" mapstructure:"election_date"`
	Media        string `yaml:"media" mapstructure:"media"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Dir:            ".",
			SegmentsGlob:   "segments/**/*{.jsonl,_segments.csv}",
			AnnotationsDir: "annotations",
		},
		Output: OutputConfig{
			Dir:           "compiled",
			Pretty:        true,
			Markdown:      true,
			IncludeFooter: true,
		},
		Concurrency: ConcurrencyConfig{
			Workers:           runtime.NumCPU(),
			ClassifierWorkers: 4,
		},
		RateLimiting: RateLimitConfig{
			// 10 calls per 69 seconds keeps free-tier model quotas happy.
			RequestsPerSecond: 10.0 / 69.0,
			BurstSize:         10,
			Backends: map[string]BackendRate{
				// Local daemons have no quota.
				"ollama":  {},
				"service": {RequestsPerSecond: 20, BurstSize: 20},
			},
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			Timeout:   30,
			MaxTokens: 16,
		},
		Emotion: EmotionConfig{
			Backend: "llm",
			Context: 1,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".tribuna-cache",
			MemoryTTL: time.Hour,
			DiskTTL:   30 * 24 * time.Hour,
		},
		Catalog: CatalogConfig{
			Enabled: true,
			Path:    "compiled/catalog.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Debates: DefaultDebates(),
	}
}

// DefaultDebates returns metadata for the Spanish general-election debates of the
// reference corpus, keyed by debate ID (the debate date).
func DefaultDebates() map[string]DebateMeta {
	m := func(election, media string) DebateMeta {
		return DebateMeta{ElectionDate: election, Media: media}
	}
	return map[string]DebateMeta{
		"1993-05-24": m("1993-06-06", "Antena 3"),
		"2008-02-25": m("2008-03-09", "AcademiaTV"),
		"2008-03-03": m("2008-03-09", "AcademiaTV"),
		"2011-11-07": m("2011-11-20", "AcademiaTV"),
		"2015-11-23": m("2015-12-20", "Universidad Carlos III"),
		"2015-11-30": m("2015-12-20", "El País"),
		"2015-12-14": m("2015-12-20", "Atresmedia - AcademiaTV"),
		"2016-06-13": m("2016-06-26", "AcademiaTV"),
		"2019-04-16": m("2019-04-28", "RTVE"),
		"2019-04-20": m("2019-04-28", "La Sexta"),
		"2019-04-22": m("2019-04-28", "RTVE"),
		"2019-04-23": m("2019-04-28", "Atresmedia"),
		"2019-11-01": m("2019-11-10", "RTVE"),
		"2019-11-02": m("2019-11-10", "La Sexta"),
		"2019-11-04": m("2019-11-10", "AcademiaTV"),
		"2019-11-07": m("2019-11-10", "La Sexta"),
		"2023-07-10": m("2023-07-23", "Atresmedia"),
		"2023-07-13": m("2023-07-23", "RTVE"),
		"2023-07-19": m("2023-07-23", "RTVE"),
	}
}

// Meta returns the metadata for a debate, defaulting Date to the ID.
func (c *Config) Meta(debateID string) DebateMeta {
	meta := c.Debates[debateID]
	if meta.Date == "" {
		meta.Date = debateID
	}
	return meta
}
