// Package subtrack tracks the newest posts of Reddit subreddits and keeps
// live per-post stats: the last seen score and the author.
//
// Subtrack is designed as an SDK-first library. Each tracked subreddit gets
// a fetch loop that pulls its newest posts and a pool of workers that record
// them. Every fetch, across every subreddit, passes through one shared quota
// gate fed by Reddit's rate-limit headers, so a process never outruns its
// API allowance however many subreddits it follows.
//
// # Quick Start
//
// Track a few subreddits and serve the API with graceful shutdown:
//
//	st, _ := subtrack.New(subtrack.WithSubreddits("golang", "rust"))
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	st.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
// Subtrack uses the functional options pattern for configuration:
//
//	st, err := subtrack.New(
//	    subtrack.WithSubreddits("golang"),
//	    subtrack.WithPollInterval(5 * time.Second),
//	    subtrack.WithWorkers(4),
//	    subtrack.WithQueue(1000, "drop-oldest"),
//	    subtrack.WithRedditClient(subtrack.RedditConfig{
//	        UserAgent: "linux:myapp:v1.0 (by /u/me)",
//	    }),
//	)
//
// Any source of posts can replace Reddit through [WithFetcher].
//
// # HTTP API
//
// [Subtrack.Start] serves:
//
//   - POST /api/track/{subreddit} and DELETE /api/track/{subreddit}: start and stop tracking
//   - GET /api/trackers: every tracker with its state and queue depth
//   - POST /api/items: submit an item for processing
//   - GET /api/stats/{subreddit} and GET /api/stats/{subreddit}/{id}: recorded stats
//   - GET /api/posts?subreddit=golang: a direct fetch through the quota gate
//   - GET /api/stream: Server-Sent Events carrying every stats update
//   - GET /metrics and GET /healthz
//
// # Architecture
//
// Subtrack consists of several internal packages (under internal/):
//
//   - internal/quota: The shared rate-quota gate
//   - internal/tracker: Per-subreddit fetch loop, worker pool and the registry of trackers
//   - internal/stats: Last-write-wins per-post stats
//   - internal/reddit: Reddit listing client
//   - internal/feed: Fan-out of stats updates to stream subscribers
//   - internal/server: HTTP server with JSON API and Server-Sent Events
//   - internal/metrics: Prometheus collectors
//
// The internal packages are not part of the public API and may change
// without notice.
package subtrack
