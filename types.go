package subtrack

import (
	"github.com/jpalmerr/subtrack/internal/feed"
	"github.com/jpalmerr/subtrack/internal/source"
	"github.com/jpalmerr/subtrack/internal/stats"
	"github.com/jpalmerr/subtrack/internal/tracker"
)

// Item is one post fetched from, or submitted to, a subreddit.
//
// Score is kept as the raw string the source reported; values that do not
// parse as an integer are recorded as a score of 0.
type Item = source.Item

// Batch is the result of one fetch: the items plus the rate-limit headers
// of the response that produced them.
type Batch = source.Batch

// Fetcher retrieves the newest posts of a subreddit. Implementations must be
// safe for concurrent use and return a *[FetchError] on transport or API
// failure.
type Fetcher = source.Fetcher

// FetcherFunc adapts a plain function to [Fetcher].
type FetcherFunc = source.FetcherFunc

// FetchError reports a failed fetch.
type FetchError = source.FetchError

// Stats is the recorded entry for one item: its ID, last seen score and
// author.
type Stats = stats.Snapshot

// Update is delivered to [WithUpdateCallback] callbacks and streamed over
// the HTTP API after every stats write.
type Update = feed.Update

// TrackerInfo summarises one subreddit tracker.
type TrackerInfo = tracker.Info

// TrackerState is the lifecycle state of a subreddit tracker.
type TrackerState = tracker.State

// Tracker states reported in [TrackerInfo].
const (
	StateIdle    = tracker.StateIdle
	StateRunning = tracker.StateRunning
	StateStopped = tracker.StateStopped
)

// Errors returned by [Subtrack] methods. Compare with errors.Is.
var (
	// ErrInvalidArgument is returned for an empty subreddit name or an item
	// with no subreddit or ID.
	ErrInvalidArgument = tracker.ErrInvalidArgument

	// ErrNotFound is returned when the named subreddit has no tracker.
	ErrNotFound = tracker.ErrNotFound

	// ErrClosed is returned after [Subtrack.Shutdown].
	ErrClosed = tracker.ErrClosed

	// ErrDropped is returned by [Subtrack.Submit] when a bounded queue using
	// the drop-newest policy is full.
	ErrDropped = tracker.ErrDropped
)
