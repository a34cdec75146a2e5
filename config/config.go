// Package config provides YAML configuration parsing for subtrack.
//
// This package enables running subtrack as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	poll_interval: 2s
//	error_backoff: 30s
//	workers: 4
//	batch_size: 25
//	log_level: info
//
//	queue:
//	  capacity: 1000
//	  overflow: drop-oldest
//
//	reddit:
//	  user_agent: "linux:subtrack:v1.0 (by /u/${REDDIT_USER:-someone})"
//	  access_token: ${REDDIT_TOKEN:-}
//	  min_request_interval: 2s
//
//	subreddits:
//	  - golang
//	  - rust
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/subtrack/internal/tracker"
)

// minPollInterval is the minimum allowed polling interval for production configs.
// This prevents accidental hammering of the Reddit API with overly aggressive polling.
const minPollInterval = 1 * time.Second

const (
	defaultPort         = 8080
	defaultPollInterval = 2 * time.Second
	defaultErrorBackoff = 30 * time.Second
	defaultBatchSize    = 25
	maxBatchSize        = 100
	defaultQuotaReset   = 10 * time.Minute
)

// Config is the root configuration structure for subtrack.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// PollInterval is the pause between successful fetches of one
	// subreddit. Accepts duration strings like "2s", "1m". Defaults to 2s.
	PollInterval Duration `yaml:"poll_interval"`

	// ErrorBackoff is the pause after a failed fetch. Defaults to 30s.
	ErrorBackoff Duration `yaml:"error_backoff"`

	// Workers is the worker pool size per subreddit. Zero means one per CPU.
	Workers int `yaml:"workers"`

	// BatchSize is the number of posts requested per fetch (1-100).
	// Defaults to 25.
	BatchSize int `yaml:"batch_size"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	Queue  QueueConfig  `yaml:"queue"`
	Quota  QuotaConfig  `yaml:"quota"`
	Reddit RedditConfig `yaml:"reddit"`

	// Subreddits are tracked from startup. More can be added at runtime
	// through the HTTP API. Names may carry an "r/" prefix.
	Subreddits []string `yaml:"subreddits"`
}

// QueueConfig bounds each subreddit's work queue.
type QueueConfig struct {
	// Capacity is the queue bound. Zero (the default) means unbounded.
	Capacity int `yaml:"capacity"`

	// Overflow is applied when a bounded queue is full: block (default),
	// drop-oldest or drop-newest.
	Overflow string `yaml:"overflow"`
}

// QuotaConfig seeds the shared quota gate before the first response
// reports real values.
type QuotaConfig struct {
	// InitialRemaining defaults to 100.
	InitialRemaining int `yaml:"initial_remaining"`

	// InitialReset defaults to 10m.
	InitialReset Duration `yaml:"initial_reset"`
}

// RedditConfig configures the Reddit API client.
type RedditConfig struct {
	// BaseURL overrides the API host, for example to point at a mock
	// server. Supports environment variable substitution.
	BaseURL string `yaml:"base_url"`

	// UserAgent is sent with every request. Reddit rejects generic agents.
	// Supports environment variable substitution.
	UserAgent string `yaml:"user_agent"`

	// AccessToken is an OAuth bearer token. Supports environment variable
	// substitution: ${VAR} or ${VAR:-default}
	AccessToken string `yaml:"access_token"`

	// MinRequestInterval is the minimum spacing between API calls across
	// all subreddits. Defaults to 2s.
	MinRequestInterval Duration `yaml:"min_request_interval"`

	// Timeout is the per-request timeout. Defaults to 30s.
	Timeout Duration `yaml:"timeout"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the reddit section and in
// subreddit names. Defaults are applied before validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(defaultPollInterval)
	}
	if c.ErrorBackoff == 0 {
		c.ErrorBackoff = Duration(defaultErrorBackoff)
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.ErrorBackoff.Duration() < minPollInterval {
		return fmt.Errorf("error_backoff must be at least %s, got %s", minPollInterval, c.ErrorBackoff.Duration())
	}

	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", c.Workers)
	}
	if c.BatchSize < 1 || c.BatchSize > maxBatchSize {
		return fmt.Errorf("batch_size must be between 1 and %d, got %d", maxBatchSize, c.BatchSize)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Queue.Capacity < 0 {
		return fmt.Errorf("queue.capacity cannot be negative, got %d", c.Queue.Capacity)
	}
	if _, err := tracker.ParseOverflowPolicy(c.Queue.Overflow); err != nil {
		return fmt.Errorf("queue.overflow: %w", err)
	}

	if c.Quota.InitialRemaining < 0 {
		return fmt.Errorf("quota.initial_remaining cannot be negative, got %d", c.Quota.InitialRemaining)
	}
	if c.Quota.InitialReset.Duration() < 0 {
		return fmt.Errorf("quota.initial_reset cannot be negative, got %s", c.Quota.InitialReset.Duration())
	}

	if err := c.Reddit.expandAndValidate(); err != nil {
		return err
	}

	seen := make(map[string]int, len(c.Subreddits))
	for i, name := range c.Subreddits {
		expanded, err := expandEnvVars(name)
		if err != nil {
			return fmt.Errorf("subreddits[%d]: %w", i, err)
		}
		key := tracker.Normalize(expanded)
		if key == "" {
			return fmt.Errorf("subreddits[%d]: name is required", i)
		}
		if j, dup := seen[key]; dup {
			return fmt.Errorf("subreddits[%d]: %q duplicates subreddits[%d]", i, key, j)
		}
		seen[key] = i
		c.Subreddits[i] = key
	}

	return nil
}

func (r *RedditConfig) expandAndValidate() error {
	fields := []struct {
		name string
		val  *string
	}{
		{"reddit.base_url", &r.BaseURL},
		{"reddit.user_agent", &r.UserAgent},
		{"reddit.access_token", &r.AccessToken},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.val)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.val = strings.TrimSpace(expanded)
	}

	if r.BaseURL != "" {
		parsedURL, err := url.Parse(r.BaseURL)
		if err != nil {
			return fmt.Errorf("reddit.base_url: invalid url: %w", err)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("reddit.base_url: scheme must be http or https, got %q", parsedURL.Scheme)
		}
	}

	if r.MinRequestInterval.Duration() < 0 {
		return fmt.Errorf("reddit.min_request_interval cannot be negative, got %s", r.MinRequestInterval.Duration())
	}
	if r.Timeout != 0 && r.Timeout.Duration() < time.Second {
		return fmt.Errorf("reddit.timeout must be at least 1s if specified, got %s", r.Timeout.Duration())
	}
	return nil
}

// ParseLogLevel maps a log_level value to a slog level. Matching is
// case-insensitive; "warning" is accepted for warn.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", s)
	}
}
