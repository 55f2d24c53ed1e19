package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the root configuration for the engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// The file on disk may be YAML or JSON; YAML is coerced to JSON before
// strict decoding, so unknown fields are rejected in both formats.
type Config struct {
	HTTP    HTTPConfig    `json:"http"`
	Logging LoggingConfig `json:"logging"`

	// Lexicons.Dir holds one YAML file per language tag (en.yaml, de.yaml, ...).
	Lexicons LexiconsConfig `json:"lexicons"`

	// Profiles.Path is the platform profile set (one YAML document).
	Profiles ProfilesConfig `json:"profiles"`

	Analyzer AnalyzerConfig `json:"analyzer,omitempty"`
	Scorer   ScorerConfig   `json:"scorer,omitempty"`
	Cache    CacheConfig    `json:"cache,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`

	Adapters AdaptersConfig `json:"adapters"`

	// Analytics is the write-only historical sink. Optional; when omitted,
	// analytics recording is disabled.
	Analytics *AnalyticsConfig `json:"analytics,omitempty"`
}

type HTTPConfig struct {
	Addr         string `json:"addr,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type LexiconsConfig struct {
	Dir string `json:"dir"`
}

type ProfilesConfig struct {
	Path string `json:"path"`
}

// AnalyzerConfig tunes the lexicon analyzer.
//
// Defaults (when fields are omitted/zero):
//   - negation_window: 3
//   - default_language: "en"
//   - max_keywords: 8
//   - min_keyword_length: 3
type AnalyzerConfig struct {
	NegationWindow   int    `json:"negation_window,omitempty"`
	DefaultLanguage  string `json:"default_language,omitempty"`
	MaxKeywords      int    `json:"max_keywords,omitempty"`
	MinKeywordLength int    `json:"min_keyword_length,omitempty"`
}

// ScorerConfig carries the factor weights of the platform scorer.
// Weights are relative; they are normalized before use. A zero struct
// means equal weights for all four factors.
type ScorerConfig struct {
	ToneAffinityWeight      float64 `json:"tone_affinity_weight,omitempty"`
	SentimentFitWeight      float64 `json:"sentiment_fit_weight,omitempty"`
	LengthFeasibilityWeight float64 `json:"length_feasibility_weight,omitempty"`
	KeywordRelevanceWeight  float64 `json:"keyword_relevance_weight,omitempty"`
}

// CacheConfig controls the in-memory result cache.
//
// Defaults: ttl "1h", capacity 4096, sweep_interval "1m".
type CacheConfig struct {
	TTL           string `json:"ttl,omitempty"`
	Capacity      int    `json:"capacity,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"`
}

// DispatchConfig controls the distribution orchestrator.
//
// Defaults:
//   - max_parallel: 8
//   - channel_timeout: "5s"
//   - retry_max: 2
//   - retry_base: "200ms"
//   - retry_jitter: 0.2
//   - job_deadline: "30s"
//   - breaker_trip_failures: 5
//   - breaker_cooldown: "30s"
type DispatchConfig struct {
	MaxParallel         int     `json:"max_parallel,omitempty"`
	ChannelTimeout      string  `json:"channel_timeout,omitempty"`
	RetryMax            int     `json:"retry_max,omitempty"`
	RetryBase           string  `json:"retry_base,omitempty"`
	RetryJitter         float64 `json:"retry_jitter,omitempty"`
	JobDeadline         string  `json:"job_deadline,omitempty"`
	BreakerTripFailures int     `json:"breaker_trip_failures,omitempty"`
	BreakerCooldown     string  `json:"breaker_cooldown,omitempty"`
}

type AdaptersConfig struct {
	Telegram *TelegramAdapterConfig `json:"telegram,omitempty"`
	Slack    *SlackAdapterConfig    `json:"slack,omitempty"`
	Webhooks []WebhookAdapterConfig `json:"webhooks,omitempty"`
}

type TelegramAdapterConfig struct {
	// ChannelID is the logical channel this adapter serves (e.g. "telegram").
	ChannelID string `json:"channel_id,omitempty"`
	Token     string `json:"token"`
	ChatID    int64  `json:"chat_id"`
	// RatePerSec caps outgoing sends. 0 means default (1/s).
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type SlackAdapterConfig struct {
	ChannelID  string  `json:"channel_id,omitempty"`
	Token      string  `json:"token"`
	Channel    string  `json:"channel"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type WebhookAdapterConfig struct {
	ChannelID  string  `json:"channel_id"`
	URL        string  `json:"url"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// AnalyticsConfig configures the historical analytics sink.
//
// Driver values:
//   - "sqlite": SQLite database file (modernc driver, no cgo)
//   - "file":   append-only JSONL file
//   - "" / "none": disabled
type AnalyticsConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Retention prunes records older than this (sqlite driver only).
	// Empty disables pruning.
	Retention string `json:"retention,omitempty"`
}

// Validate checks cross-field consistency. It is used both at startup and
// as the hot-reload gate, so a bad edit never replaces a working config.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Lexicons.Dir) == "" {
		return errors.New("lexicons.dir is required")
	}
	if strings.TrimSpace(c.Profiles.Path) == "" {
		return errors.New("profiles.path is required")
	}
	if c.Analyzer.NegationWindow < 0 {
		return errors.New("analyzer.negation_window must be >= 0")
	}
	if c.Dispatch.RetryJitter < 0 || c.Dispatch.RetryJitter > 1 {
		return errors.New("dispatch.retry_jitter must be in [0,1]")
	}
	for _, f := range []struct {
		path string
		raw  string
	}{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"cache.ttl", c.Cache.TTL},
		{"cache.sweep_interval", c.Cache.SweepInterval},
		{"dispatch.channel_timeout", c.Dispatch.ChannelTimeout},
		{"dispatch.retry_base", c.Dispatch.RetryBase},
		{"dispatch.job_deadline", c.Dispatch.JobDeadline},
		{"dispatch.breaker_cooldown", c.Dispatch.BreakerCooldown},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	seen := map[string]bool{}
	for i, w := range c.Adapters.Webhooks {
		id := strings.TrimSpace(w.ChannelID)
		if id == "" {
			return fmt.Errorf("adapters.webhooks[%d].channel_id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("adapters.webhooks: duplicate channel_id %q", id)
		}
		seen[id] = true
		if strings.TrimSpace(w.URL) == "" {
			return fmt.Errorf("adapters.webhooks[%d].url is required", i)
		}
	}
	if a := c.Analytics; a != nil {
		switch strings.ToLower(strings.TrimSpace(a.Driver)) {
		case "", "none", "sqlite", "sqlite3", "file":
		default:
			return fmt.Errorf("analytics.driver: unknown driver %q", a.Driver)
		}
		for _, f := range []struct {
			path string
			raw  string
		}{
			{"analytics.busy_timeout", a.BusyTimeout},
			{"analytics.retention", a.Retention},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}
	return nil
}
