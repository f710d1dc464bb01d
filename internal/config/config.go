package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type DBConfig struct {
	Driver      string `yaml:"driver"` // mongo, sqlite, memory
	Connection  string `yaml:"connection"`
	Database    string `yaml:"database"`
	SQLitePath  string `yaml:"sqlite_path"`
	Collections struct {
		Questions string `yaml:"questions"`
	} `yaml:"collections"`
}

type LogicConfig struct {
	TimeoutSec         int    `yaml:"timeout_sec"`
	MaxAttempts        int    `yaml:"max_attempts"`
	RetryDelaysSec     []int  `yaml:"retry_delays_sec"`
	MaxRedirects       int    `yaml:"max_redirects"`
	MaxSourceLength    int    `yaml:"max_source_length"`
	MinExtractedLength int    `yaml:"min_extracted_length"`
	UserAgent          string `yaml:"user_agent"`
	RateLimitPolicy    string `yaml:"rate_limit_policy"` // skip-record, abort-provider
	IgnoreRobots       bool   `yaml:"ignore_robots"`
}

type ProviderConfig struct {
	DelayMS     int      `yaml:"delay_ms"`
	SlowDelayMS int      `yaml:"slow_delay_ms"`
	JitterMS    int      `yaml:"jitter_ms"`
	MaxBackoff  int      `yaml:"max_backoff_level"`
	BaseURL     string   `yaml:"base_url"`
	Languages   []string `yaml:"languages"`
	PathPrefix  []string `yaml:"path_prefixes"`
	Selectors   []string `yaml:"selectors"`
	Boilerplate []string `yaml:"boilerplate"`
}

type ProvidersConfig struct {
	Transcript ProviderConfig `yaml:"transcript"`
	Article    ProviderConfig `yaml:"article"`
}

// ScoringConfig holds the recovery-probability weights. The defaults are
// empirical and only matter for parity with earlier runs.
type ScoringConfig struct {
	VideoBase       float64  `yaml:"video_base"`
	VideoIDBonus    float64  `yaml:"video_id_bonus"`
	LinkBase        float64  `yaml:"link_base"`
	LinkHostBonus   float64  `yaml:"link_host_bonus"`
	LinkHostMarkers []string `yaml:"link_host_markers"`
	ArticleBase     float64  `yaml:"article_base"`
	ArticlePenalty  float64  `yaml:"article_opaque_penalty"`
	OpaquePrefix    string   `yaml:"article_opaque_prefix"`
	OpaqueSeparator string   `yaml:"article_opaque_separator"`
	Threshold       float64  `yaml:"threshold"`
}

type SamplingConfig struct {
	SampleSize      int    `yaml:"sample_size"`
	MinSourceLength int    `yaml:"min_source_length"`
	DefaultBatch    string `yaml:"default_batch"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

type Config struct {
	DB        DBConfig        `yaml:"db"`
	Logic     LogicConfig     `yaml:"logic"`
	Providers ProvidersConfig `yaml:"providers"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Log       LogConfig       `yaml:"log"`
}

// DefaultScoring holds the empirical weights. Scoring numbers are preset
// before the file is read, so an explicit 0 in the file is kept.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		VideoBase:      0.8,
		VideoIDBonus:   0.1,
		LinkBase:       0.8,
		LinkHostBonus:  0.1,
		ArticleBase:    0.3,
		ArticlePenalty: 0.1,
		Threshold:      0.7,
	}
}

// LoadConfig reads path and fills every unset field with its default.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Config{Scoring: DefaultScoring()}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func Defaults() *Config {
	cfg := Config{Scoring: DefaultScoring()}
	cfg.ApplyDefaults()
	return &cfg
}

func (c *Config) ApplyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Database == "" {
		c.DB.Database = "learningq"
	}
	if c.DB.SQLitePath == "" {
		c.DB.SQLitePath = "questions.db"
	}
	if c.DB.Collections.Questions == "" {
		c.DB.Collections.Questions = "expert_questions"
	}

	l := &c.Logic
	if l.TimeoutSec <= 0 {
		l.TimeoutSec = 20
	}
	if l.MaxAttempts <= 0 {
		l.MaxAttempts = 3
	}
	if len(l.RetryDelaysSec) == 0 {
		l.RetryDelaysSec = []int{5, 15, 30}
	}
	if l.MaxRedirects <= 0 {
		l.MaxRedirects = 15
	}
	if l.MaxSourceLength <= 0 {
		l.MaxSourceLength = 8000
	}
	if l.MinExtractedLength <= 0 {
		l.MinExtractedLength = 200
	}
	if l.UserAgent == "" {
		l.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if l.RateLimitPolicy == "" {
		l.RateLimitPolicy = "skip-record"
	}

	t := &c.Providers.Transcript
	if t.DelayMS <= 0 {
		t.DelayMS = 1500
	}
	if t.SlowDelayMS <= 0 {
		t.SlowDelayMS = 3000
	}
	if t.JitterMS <= 0 {
		t.JitterMS = 1000
	}
	if t.MaxBackoff <= 0 {
		t.MaxBackoff = 4
	}
	if t.BaseURL == "" {
		t.BaseURL = "https://www.youtube.com/api/timedtext"
	}
	if len(t.Languages) == 0 {
		t.Languages = []string{"en", "en-US", "en-GB", "en-CA"}
	}

	a := &c.Providers.Article
	if a.DelayMS <= 0 {
		a.DelayMS = 500
	}
	if a.SlowDelayMS <= 0 {
		a.SlowDelayMS = 1000
	}
	if a.JitterMS <= 0 {
		a.JitterMS = 500
	}
	if a.MaxBackoff <= 0 {
		a.MaxBackoff = 4
	}
	if a.BaseURL == "" {
		a.BaseURL = "https://www.khanacademy.org"
	}
	if len(a.PathPrefix) == 0 {
		a.PathPrefix = []string{
			"science/article", "math/article", "humanities/article",
			"computing/article", "economics-finance-domain/article",
			"test-prep/article", "article",
			"science", "math", "humanities",
		}
	}
	if len(a.Selectors) == 0 {
		a.Selectors = []string{
			`[data-test-id="article-content"]`, ".article-content-container",
			".perseus-renderer", ".framework-perseus",
			".article-content", ".main-content", ".markdown-rendered-content", ".article-body",
			"main", ".content", "#content",
			`[class*="article"]`, `[class*="content"]`, `[class*="perseus"]`,
		}
	}
	if len(a.Boilerplate) == 0 {
		a.Boilerplate = []string{
			`Sign up|Log in|Sign in`,
			`Khan Academy|khanacademy\.org`,
			`Next lesson|Previous lesson`,
			`Share|Tweet|Facebook`,
			`Menu|Navigation|Search`,
			`Loading\.\.\.`,
			`Click here|Learn more`,
		}
	}

	s := &c.Scoring
	if len(s.LinkHostMarkers) == 0 {
		s.LinkHostMarkers = []string{"youtube.com", "youtu.be"}
	}
	if s.OpaquePrefix == "" {
		s.OpaquePrefix = "x"
	}
	if s.OpaqueSeparator == "" {
		s.OpaqueSeparator = "_"
	}

	if c.Sampling.SampleSize <= 0 {
		c.Sampling.SampleSize = 200
	}
	if c.Sampling.MinSourceLength <= 0 {
		c.Sampling.MinSourceLength = 100
	}
	if c.Sampling.DefaultBatch == "" {
		c.Sampling.DefaultBatch = "research_baseline_v1"
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "dev"
	}
}

func (l LogicConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSec) * time.Second
}

func (l LogicConfig) RetryDelays() []time.Duration {
	out := make([]time.Duration, len(l.RetryDelaysSec))
	for i, s := range l.RetryDelaysSec {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// Delay is the minimum gap between two records for this provider.
func (p ProviderConfig) Delay(slow bool) time.Duration {
	if slow {
		return time.Duration(p.SlowDelayMS) * time.Millisecond
	}
	return time.Duration(p.DelayMS) * time.Millisecond
}

func (p ProviderConfig) Jitter() time.Duration {
	return time.Duration(p.JitterMS) * time.Millisecond
}
