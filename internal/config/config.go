// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Resolve    ResolveConfig    `mapstructure:"resolve"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int      `mapstructure:"port"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	CORSAllowedOrigins    []string `mapstructure:"cors_allowed_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig holds settings shared by every outbound fetch.
type HTTPConfig struct {
	UserAgent string `mapstructure:"user_agent"`
}

// FeedConfig selects and shapes the syndication feed query.
type FeedConfig struct {
	Source            string `mapstructure:"source"`
	SearchURLTemplate string `mapstructure:"search_url_template"`
	TagURLTemplate    string `mapstructure:"tag_url_template"`
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// ResolveConfig bounds redirect following.
type ResolveConfig struct {
	TimeoutSeconds          int  `mapstructure:"timeout_seconds"`
	MaxRedirects            int  `mapstructure:"max_redirects"`
	SkipExtractionOnFailure bool `mapstructure:"skip_extraction_on_failure"`
}

// ExtractConfig controls article fetching and text isolation.
type ExtractConfig struct {
	Strategy       string   `mapstructure:"strategy"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxChars       int      `mapstructure:"max_chars"`
	MinChars       int      `mapstructure:"min_chars"`
	MaxBodyBytes   int      `mapstructure:"max_body_bytes"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
	PerHostRPS     float64  `mapstructure:"per_host_rps"`
	PerHostBurst   int      `mapstructure:"per_host_burst"`
	DeniedHosts    []string `mapstructure:"denied_hosts"`
}

// HeadlessConfig configures the optional browser fallback.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// SummarizerConfig points at the remote summarization model.
type SummarizerConfig struct {
	APIURL           string  `mapstructure:"api_url"`
	APIKey           string  `mapstructure:"api_key"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MinLength        int     `mapstructure:"min_length"`
	MaxLength        int     `mapstructure:"max_length"`
	WaitForModel     bool    `mapstructure:"wait_for_model"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RPS              float64 `mapstructure:"rps"`
}

// PipelineConfig governs a single topic run.
type PipelineConfig struct {
	MaxCandidates int    `mapstructure:"max_candidates"`
	Concurrency   int    `mapstructure:"concurrency"`
	TestText      string `mapstructure:"test_text"`
}

// ProgressConfig controls the progress hub and its sinks.
type ProgressConfig struct {
	Enabled           bool        `mapstructure:"enabled"`
	LogEnabled        bool        `mapstructure:"log_enabled"`
	PrometheusEnabled bool        `mapstructure:"prometheus_enabled"`
	BufferSize        int         `mapstructure:"buffer_size"`
	Batch             BatchConfig `mapstructure:"batch"`
	SinkTimeoutMs     int         `mapstructure:"sink_timeout_ms"`
}

// BatchConfig sets the hub flush thresholds.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	ProjectID   string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if err := readConfigFile(v, path); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// readConfigFile reads path, or searches the usual locations for config.{yaml,toml,json}
// when path is empty. A missing file in the search locations is not an error.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/topic-digest/")
	v.AddConfigPath("$HOME/.topic-digest")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps the variable names the hosted deployments already set.
func bindLegacyEnv(v *viper.Viper) error {
	if err := v.BindEnv("server.port", "DIGEST_SERVER_PORT", "PORT"); err != nil {
		return fmt.Errorf("bind server.port: %w", err)
	}
	if err := v.BindEnv("summarizer.api_key", "DIGEST_SUMMARIZER_API_KEY", "HUGGINGFACE_API_KEY"); err != nil {
		return fmt.Errorf("bind summarizer.api_key: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 10000)
	v.SetDefault("server.request_timeout_seconds", 180)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; topic-digest/0.1)")
	v.SetDefault("feed.source", "search")
	v.SetDefault("feed.search_url_template", "https://news.google.com/rss/search?q={topic}")
	v.SetDefault("feed.tag_url_template", "https://medium.com/feed/tag/{topic}")
	v.SetDefault("feed.user_agent", "Mozilla/5.0")
	v.SetDefault("feed.timeout_seconds", 15)
	v.SetDefault("resolve.timeout_seconds", 10)
	v.SetDefault("resolve.max_redirects", 10)
	v.SetDefault("resolve.skip_extraction_on_failure", false)
	v.SetDefault("extract.strategy", "readability")
	v.SetDefault("extract.timeout_seconds", 15)
	v.SetDefault("extract.max_chars", 0)
	v.SetDefault("extract.min_chars", 200)
	v.SetDefault("extract.max_body_bytes", 5<<20)
	v.SetDefault("extract.respect_robots", false)
	v.SetDefault("extract.per_host_rps", 0)
	v.SetDefault("extract.per_host_burst", 1)
	v.SetDefault("extract.denied_hosts", []string{})
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("summarizer.api_url", "https://api-inference.huggingface.co/models/facebook/bart-large-cnn")
	v.SetDefault("summarizer.timeout_seconds", 20)
	v.SetDefault("summarizer.wait_for_model", false)
	v.SetDefault("summarizer.max_retries", 0)
	v.SetDefault("summarizer.backoff_initial_ms", 1000)
	v.SetDefault("summarizer.backoff_max_ms", 8000)
	v.SetDefault("summarizer.rps", 0)
	v.SetDefault("pipeline.max_candidates", 5)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.test_text",
		"Artificial Intelligence (AI) has become a transformative technology... [long content here]")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.prometheus_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("telemetry.service_name", "topic-digest")
	v.SetDefault("telemetry.version", "dev")
}

// Validate enforces required values and reasonable limits.
// A missing summarizer API key is allowed; the model endpoint rejects the calls instead.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Feed.Source {
	case "search", "tag":
	default:
		return fmt.Errorf("feed.source must be one of search, tag (got %q)", c.Feed.Source)
	}
	switch c.Extract.Strategy {
	case "paragraphs", "readability":
	default:
		return fmt.Errorf("extract.strategy must be one of paragraphs, readability (got %q)", c.Extract.Strategy)
	}
	if c.Extract.MinChars < 0 {
		return fmt.Errorf("extract.min_chars must be >= 0")
	}
	if c.Summarizer.APIURL == "" {
		return fmt.Errorf("summarizer.api_url must be set")
	}
	if c.Summarizer.TimeoutSeconds <= 0 {
		return fmt.Errorf("summarizer.timeout_seconds must be > 0")
	}
	if c.Resolve.TimeoutSeconds <= 0 {
		return fmt.Errorf("resolve.timeout_seconds must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// RequestTimeout is the upper bound for a single inbound HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// Seconds converts an integer seconds setting into a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
