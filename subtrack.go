package subtrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jpalmerr/subtrack/internal/feed"
	"github.com/jpalmerr/subtrack/internal/metrics"
	"github.com/jpalmerr/subtrack/internal/quota"
	"github.com/jpalmerr/subtrack/internal/reddit"
	"github.com/jpalmerr/subtrack/internal/server"
	"github.com/jpalmerr/subtrack/internal/source"
	"github.com/jpalmerr/subtrack/internal/stats"
	"github.com/jpalmerr/subtrack/internal/tracker"
)

const (
	defaultPort         = 8080
	defaultPollInterval = 2 * time.Second
	defaultErrorBackoff = 30 * time.Second

	// shutdownTimeout bounds how long Start waits for trackers to drain
	// after its context is cancelled.
	shutdownTimeout = 10 * time.Second
)

// Subtrack tracks subreddits and serves their per-post stats over HTTP.
//
// Subtrack wires one quota gate, one fetch backend and one tracker registry
// together. It is created using [New] with functional options and started
// with [Subtrack.Start].
//
// The typical lifecycle is:
//
//	st, err := subtrack.New(subtrack.WithSubreddits("golang"))
//	if err != nil {
//	    slog.Error("failed to create subtrack", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	st.Start(ctx) // blocks until context cancelled
//
// Tracking can also be driven directly through [Subtrack.Track],
// [Subtrack.Submit] and friends, with or without Start.
type Subtrack struct {
	port         int
	pollInterval time.Duration
	subreddits   []string
	logger       *slog.Logger
	callbacks    []func(Update)

	fetcher  source.Fetcher
	client   *reddit.Client // nil when a custom fetcher is used
	gate     *quota.Gate
	metrics  *metrics.Metrics
	hub      *feed.Hub
	registry *tracker.Registry

	mu      sync.Mutex
	started bool
	server  *server.Server

	closeOnce sync.Once
}

// New creates a new [Subtrack] instance with the given options.
//
// No subreddit is required up front; trackers can be added later with
// [Subtrack.Track] or through the HTTP API. Other options have sensible
// defaults:
//   - Port: 8080
//   - Poll interval: 2 seconds, error backoff: 30 seconds
//   - Workers: one per CPU, batch size: 25
//   - Queue: unbounded
//   - Fetcher: the anonymous Reddit JSON API, one request every 2 seconds
//
// Returns an error if any option is invalid.
//
// Example:
//
//	st, err := subtrack.New(
//	    subtrack.WithSubreddits("golang", "rust"),
//	    subtrack.WithPollInterval(5 * time.Second),
//	    subtrack.WithPort(9090),
//	)
func New(opts ...Option) (*Subtrack, error) {
	cfg := &stConfig{
		port:         defaultPort,
		pollInterval: defaultPollInterval,
		errorBackoff: defaultErrorBackoff,
		batchSize:    source.DefaultBatchSize,
		overflow:     tracker.OverflowBlock,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(cfg.subreddits))
	for _, name := range cfg.subreddits {
		if seen[name] {
			return nil, fmt.Errorf("duplicate subreddit: %q", name)
		}
		seen[name] = true
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	st := &Subtrack{
		port:         cfg.port,
		pollInterval: cfg.pollInterval,
		subreddits:   cfg.subreddits,
		logger:       logger,
		callbacks:    cfg.callbacks,
		metrics:      metrics.New(),
		hub:          feed.NewHub(),
	}

	st.fetcher = cfg.fetcher
	if st.fetcher == nil {
		st.client = reddit.NewClient(redditOptions(cfg.reddit)...)
		st.fetcher = st.client
	}

	gateOpts := []quota.Option{quota.WithMetrics(st.metrics)}
	if cfg.quota != nil {
		gateOpts = append(gateOpts, quota.WithInitialState(cfg.quota.remaining, cfg.quota.resetIn))
	}
	st.gate = quota.New(gateOpts...)

	st.registry = tracker.NewRegistry(st.fetcher, st.gate,
		tracker.WithConfig(tracker.Config{
			BatchSize:     cfg.batchSize,
			PollInterval:  cfg.pollInterval,
			ErrorBackoff:  cfg.errorBackoff,
			Workers:       cfg.workers,
			QueueCapacity: cfg.queueCap,
			Overflow:      cfg.overflow,
		}),
		tracker.WithLogger(logger),
		tracker.WithMetrics(st.metrics),
		tracker.WithObserver(st.observe),
	)

	return st, nil
}

// redditOptions converts the public client settings into client options.
func redditOptions(rc RedditConfig) []reddit.Option {
	var opts []reddit.Option
	if rc.BaseURL != "" {
		opts = append(opts, reddit.WithBaseURL(rc.BaseURL))
	}
	if rc.UserAgent != "" {
		opts = append(opts, reddit.WithUserAgent(rc.UserAgent))
	}
	if rc.AccessToken != "" {
		opts = append(opts, reddit.WithAccessToken(rc.AccessToken))
	}
	if rc.MinInterval > 0 {
		opts = append(opts, reddit.WithMinInterval(rc.MinInterval))
	}
	if rc.Timeout > 0 {
		opts = append(opts, reddit.WithTimeout(rc.Timeout))
	}
	return opts
}

// Start begins tracking the configured subreddits and serving the HTTP API.
//
// Start is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - Every subreddit given to [WithSubreddits] is tracked immediately
//   - The HTTP server starts on the configured port
//   - Stats updates are pushed to callbacks and to /api/stream clients
//
// On cancellation every tracker is stopped and drained, waiting at most ten
// seconds, and the instance is shut down; it cannot be started again.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails
// to start, if Start was already called or if the instance is shut down.
func (st *Subtrack) Start(ctx context.Context) error {
	st.mu.Lock()
	if st.started {
		st.mu.Unlock()
		return errors.New("subtrack already started")
	}
	st.started = true
	st.mu.Unlock()

	st.logger.Info("subtrack starting", "subreddit_count", len(st.subreddits))
	st.logger.Info("polling configured", "interval", st.pollInterval.String())
	st.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d", st.port))

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	for _, name := range st.subreddits {
		if err := st.registry.Start(name); err != nil {
			return fmt.Errorf("failed to track %s: %w", name, err)
		}
	}

	srv := server.NewServer(server.Config{
		Port:     st.port,
		Registry: st.registry,
		Posts:    gatedFetcher(st.fetcher, st.gate),
		Hub:      st.hub,
		Metrics:  st.metrics,
		Logger:   st.logger,
	})
	if err := srv.Start(ctx); err != nil {
		st.shutdownQuietly()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	st.mu.Lock()
	st.server = srv
	st.mu.Unlock()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := st.Shutdown(shutdownCtx); err != nil {
		return err
	}
	st.logger.Info("subtrack stopped")
	return nil
}

// shutdownQuietly shuts down with the default timeout, logging failures.
func (st *Subtrack) shutdownQuietly() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := st.Shutdown(ctx); err != nil {
		st.logger.Warn("shutdown incomplete", "error", err)
	}
}

// Shutdown stops every tracker, waits for their queues to drain and closes
// the update stream and the Reddit client. It returns an error if ctx is
// done before every tracker has finished. Later calls return nil, and
// tracking methods return [ErrClosed].
//
// Start calls Shutdown itself when its context is cancelled.
func (st *Subtrack) Shutdown(ctx context.Context) error {
	err := st.registry.Shutdown(ctx)
	st.closeOnce.Do(func() {
		st.hub.Close()
		st.client.Close()
	})
	return err
}

// Track starts tracking a subreddit, creating its tracker if needed.
// Tracking a subreddit that is already running is a no-op.
func (st *Subtrack) Track(name string) error {
	return st.registry.Start(name)
}

// Untrack stops a subreddit's tracker. Its stats are kept and a later
// [Subtrack.Track] resumes it.
func (st *Subtrack) Untrack(name string) error {
	return st.registry.Stop(name)
}

// Remove stops a subreddit's tracker and discards its stats.
func (st *Subtrack) Remove(name string) error {
	return st.registry.Remove(name)
}

// Submit queues an item for processing by the tracker of item.Source,
// creating an idle tracker if needed. Items on an idle tracker are
// processed once it is started.
func (st *Subtrack) Submit(ctx context.Context, item Item) error {
	return st.registry.Submit(ctx, item)
}

// Stats returns the recorded entry for one post of one subreddit.
func (st *Subtrack) Stats(subreddit, id string) (Stats, bool) {
	return st.registry.Stats(subreddit, id)
}

// AllStats returns every recorded entry for a subreddit, sorted by ID.
func (st *Subtrack) AllStats(subreddit string) ([]Stats, error) {
	return st.registry.AllStats(subreddit)
}

// Trackers returns a summary of every tracker, sorted by subreddit.
func (st *Subtrack) Trackers() []TrackerInfo {
	return st.registry.Trackers()
}

// Subscribe returns a channel receiving every stats update until
// [Subtrack.Unsubscribe] or shutdown closes it. Slow readers miss updates
// rather than holding up workers.
func (st *Subtrack) Subscribe() <-chan Update {
	return st.hub.Subscribe()
}

// Unsubscribe closes a channel returned by [Subtrack.Subscribe].
func (st *Subtrack) Unsubscribe(ch <-chan Update) {
	st.hub.Unsubscribe(ch)
}

// Port returns the configured HTTP port for the API server.
func (st *Subtrack) Port() int {
	return st.port
}

// Addr returns the address the HTTP server listens on, or nil when it is
// not running.
func (st *Subtrack) Addr() net.Addr {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.server == nil {
		return nil
	}
	return st.server.Addr()
}

// PollInterval returns the configured pause between fetches.
func (st *Subtrack) PollInterval() time.Duration {
	return st.pollInterval
}

// Subreddits returns a copy of the subreddits tracked at startup.
func (st *Subtrack) Subreddits() []string {
	cp := make([]string, len(st.subreddits))
	copy(cp, st.subreddits)
	return cp
}

// observe fans a stats write out to the stream and to callbacks.
func (st *Subtrack) observe(subreddit string, snap stats.Snapshot) {
	u := Update{Source: subreddit, Stats: snap, RecordedAt: time.Now()}
	st.hub.Publish(u)
	for _, cb := range st.callbacks {
		invokeCallbackSafe(cb, u, st.logger)
	}
}

// gatedFetcher wraps f so direct fetches pass through the same quota gate
// as the trackers and feed their rate headers back into it.
func gatedFetcher(f source.Fetcher, gate *quota.Gate) source.Fetcher {
	return source.FetcherFunc(func(ctx context.Context, name string, limit int) (source.Batch, error) {
		if err := gate.Acquire(ctx); err != nil {
			return source.Batch{}, err
		}
		batch, err := f.FetchLatest(ctx, name, limit)
		if err != nil {
			return source.Batch{}, err
		}
		gate.Update(batch.RateHeaders)
		return batch, nil
	})
}

// invokeCallbackSafe calls an update callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Update), u Update, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("update callback panicked",
				"panic", r,
				"subreddit", u.Source,
				"post_id", u.Stats.ID,
			)
		}
	}()
	cb(u)
}
