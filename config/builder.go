package config

import (
	"io"
	"log/slog"

	"github.com/jpalmerr/subtrack"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The returned options do not include a logger or callbacks; callers append
// their own. The config is expected to have passed [Parse] validation, but
// every option still validates its input, so a hand-built Config that is
// out of range fails in subtrack.New rather than here.
func BuildOptions(cfg *Config) []subtrack.Option {
	opts := []subtrack.Option{
		subtrack.WithPort(cfg.Port),
		subtrack.WithPollInterval(cfg.PollInterval.Duration()),
		subtrack.WithErrorBackoff(cfg.ErrorBackoff.Duration()),
		subtrack.WithWorkers(cfg.Workers),
		subtrack.WithBatchSize(cfg.BatchSize),
		subtrack.WithQueue(cfg.Queue.Capacity, cfg.Queue.Overflow),
		subtrack.WithRedditClient(subtrack.RedditConfig{
			BaseURL:     cfg.Reddit.BaseURL,
			UserAgent:   cfg.Reddit.UserAgent,
			AccessToken: cfg.Reddit.AccessToken,
			MinInterval: cfg.Reddit.MinRequestInterval.Duration(),
			Timeout:     cfg.Reddit.Timeout.Duration(),
		}),
	}

	// a zero quota section keeps the gate defaults
	if cfg.Quota.InitialRemaining != 0 || cfg.Quota.InitialReset != 0 {
		remaining := cfg.Quota.InitialRemaining
		reset := cfg.Quota.InitialReset.Duration()
		if reset == 0 {
			reset = defaultQuotaReset
		}
		opts = append(opts, subtrack.WithQuota(remaining, reset))
	}

	if len(cfg.Subreddits) > 0 {
		opts = append(opts, subtrack.WithSubreddits(cfg.Subreddits...))
	}

	return opts
}

// NewLogger returns a JSON logger writing to w at the configured level.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	level, err := ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
