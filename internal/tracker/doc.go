// Package tracker runs the per-subreddit fetch loops and worker pools.
//
// This package is internal to subtrack and owns all of its concurrency
// coordination: quota-gated fetching, fan-out to workers, and lifecycle
// management across many concurrently tracked subreddits.
//
// The main components are:
//
//   - [Tracker]: one fetch loop plus N workers for a single subreddit
//   - [Registry]: get-or-create map of trackers with start/stop/submit
//   - [Config]: tuning shared by every tracker a registry creates
//
// Each tracker's queue and stats store are private to it; the only state
// shared across trackers is the injected quota gate.
package tracker
