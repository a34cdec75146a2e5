package subtrack

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jpalmerr/subtrack/internal/tracker"
)

// stConfig holds mutable state during Subtrack construction.
type stConfig struct {
	port         int
	pollInterval time.Duration
	errorBackoff time.Duration
	workers      int
	batchSize    int
	queueCap     int
	overflow     tracker.OverflowPolicy
	subreddits   []string
	fetcher      Fetcher
	reddit       RedditConfig
	quota        *quotaSeed
	logger       *slog.Logger
	callbacks    []func(Update)
}

type quotaSeed struct {
	remaining int
	resetIn   time.Duration
}

// RedditConfig configures the built-in Reddit API client. Zero fields keep
// the client defaults.
type RedditConfig struct {
	// BaseURL overrides the API host, for example to point at a mock server.
	BaseURL string

	// UserAgent is sent with every request. Reddit throttles generic agents
	// heavily, so set one that identifies your application.
	UserAgent string

	// AccessToken is an OAuth bearer token. When set, requests go to
	// oauth.reddit.com unless BaseURL is also set.
	AccessToken string

	// MinInterval is the minimum spacing between requests across every
	// subreddit. Defaults to 2 seconds.
	MinInterval time.Duration

	// Timeout bounds each request. Defaults to 30 seconds.
	Timeout time.Duration
}

// Option is a function that configures a [Subtrack] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*stConfig) error

// WithPort sets the HTTP port for the API server.
//
// Defaults to 8080 if not specified.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *stConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithPollInterval sets the pause between successful fetches of each
// subreddit. Defaults to 2 seconds.
//
// Example:
//
//	st, err := subtrack.New(
//	    subtrack.WithSubreddits("golang"),
//	    subtrack.WithPollInterval(10 * time.Second),
//	)
//
// Returns an error if the duration is zero or negative.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *stConfig) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithErrorBackoff sets the pause after a failed fetch before the next
// attempt. Defaults to 30 seconds.
//
// Returns an error if the duration is zero or negative.
func WithErrorBackoff(d time.Duration) Option {
	return func(cfg *stConfig) error {
		if d <= 0 {
			return errors.New("error backoff must be positive")
		}
		cfg.errorBackoff = d
		return nil
	}
}

// WithWorkers sets the number of workers processing each subreddit's
// queue. Zero, the default, means one worker per CPU.
//
// Returns an error if n is negative.
func WithWorkers(n int) Option {
	return func(cfg *stConfig) error {
		if n < 0 {
			return errors.New("workers cannot be negative")
		}
		cfg.workers = n
		return nil
	}
}

// WithBatchSize sets how many posts each fetch requests. Defaults to 25.
//
// Returns an error if n is outside 1-100, the range Reddit accepts.
func WithBatchSize(n int) Option {
	return func(cfg *stConfig) error {
		if n < 1 || n > 100 {
			return errors.New("batch size must be between 1 and 100")
		}
		cfg.batchSize = n
		return nil
	}
}

// WithQueue bounds each subreddit's work queue.
//
// A capacity of zero, the default, leaves queues unbounded. overflow picks
// what happens when a bounded queue is full:
//
//   - "block" (or ""): producers wait for space
//   - "drop-oldest": the oldest queued item is discarded
//   - "drop-newest": the incoming item is discarded and Submit returns [ErrDropped]
//
// Example:
//
//	st, err := subtrack.New(
//	    subtrack.WithSubreddits("golang"),
//	    subtrack.WithQueue(500, "drop-oldest"),
//	)
//
// Returns an error if capacity is negative or overflow is unknown.
func WithQueue(capacity int, overflow string) Option {
	return func(cfg *stConfig) error {
		if capacity < 0 {
			return errors.New("queue capacity cannot be negative")
		}
		policy, err := tracker.ParseOverflowPolicy(overflow)
		if err != nil {
			return err
		}
		cfg.queueCap = capacity
		cfg.overflow = policy
		return nil
	}
}

// WithSubreddits adds subreddits that are tracked as soon as
// [Subtrack.Start] runs. Names are case-insensitive and may carry an "r/"
// prefix.
//
// Example:
//
//	st, err := subtrack.New(
//	    subtrack.WithSubreddits("golang", "r/rust"),
//	)
//
// Returns an error if a name is empty.
func WithSubreddits(names ...string) Option {
	return func(cfg *stConfig) error {
		for _, name := range names {
			key := tracker.Normalize(name)
			if key == "" {
				return errors.New("subreddit name cannot be empty")
			}
			cfg.subreddits = append(cfg.subreddits, key)
		}
		return nil
	}
}

// WithFetcher replaces the built-in Reddit client with f. Every tracker and
// the /api/posts route use it, behind the shared quota gate.
//
// Example:
//
//	st, err := subtrack.New(
//	    subtrack.WithFetcher(subtrack.FetcherFunc(
//	        func(ctx context.Context, name string, limit int) (subtrack.Batch, error) {
//	            return subtrack.Batch{Items: loadFixture(name)}, nil
//	        },
//	    )),
//	)
//
// Returns an error if f is nil.
func WithFetcher(f Fetcher) Option {
	return func(cfg *stConfig) error {
		if f == nil {
			return errors.New("fetcher cannot be nil")
		}
		cfg.fetcher = f
		return nil
	}
}

// WithRedditClient configures the built-in Reddit client. It has no effect
// when [WithFetcher] is also given.
//
// Example:
//
//	st, err := subtrack.New(
//	    subtrack.WithSubreddits("golang"),
//	    subtrack.WithRedditClient(subtrack.RedditConfig{
//	        UserAgent:   "linux:myapp:v1.0 (by /u/me)",
//	        AccessToken: os.Getenv("REDDIT_TOKEN"),
//	    }),
//	)
//
// Returns an error if an interval or timeout is negative.
func WithRedditClient(rc RedditConfig) Option {
	return func(cfg *stConfig) error {
		if rc.MinInterval < 0 {
			return errors.New("reddit min interval cannot be negative")
		}
		if rc.Timeout < 0 {
			return errors.New("reddit timeout cannot be negative")
		}
		cfg.reddit = rc
		return nil
	}
}

// WithQuota seeds the shared quota gate. Until the first response reports
// real rate-limit headers the gate assumes remaining calls, resetting after
// resetIn. Defaults to 100 calls and 10 minutes.
//
// Returns an error if either value is negative.
func WithQuota(remaining int, resetIn time.Duration) Option {
	return func(cfg *stConfig) error {
		if remaining < 0 || resetIn < 0 {
			return errors.New("quota values cannot be negative")
		}
		cfg.quota = &quotaSeed{remaining: remaining, resetIn: resetIn}
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Subtrack instance.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	st, err := subtrack.New(
//	    subtrack.WithSubreddits("golang"),
//	    subtrack.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *stConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithUpdateCallback registers a function to be called after every stats
// write.
//
// Multiple callbacks may be registered by calling WithUpdateCallback
// multiple times; they execute in registration order.
//
// IMPORTANT: Callbacks run on tracker worker goroutines, possibly several
// at once, and must be safe for concurrent use. A slow callback holds up
// the worker that called it.
//
// Panics within callbacks are recovered and logged; later callbacks still
// run.
//
// Example:
//
//	st, err := subtrack.New(
//	    subtrack.WithSubreddits("golang"),
//	    subtrack.WithUpdateCallback(func(u subtrack.Update) {
//	        if u.Stats.Score > 1000 {
//	            log.Printf("hot post in r/%s: %s", u.Source, u.Stats.ID)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithUpdateCallback(cb func(Update)) Option {
	return func(cfg *stConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}
