// Package source defines the item model shared by subtrack's trackers and
// the contract a fetch backend must satisfy.
//
// The tracker never talks to the network itself. It calls a [Fetcher] and
// consumes the returned [Batch]: an ordered list of items plus whatever
// rate-limit headers the backend observed.
package source

import (
	"context"
	"fmt"
	"time"
)

// DefaultBatchSize is the number of items requested per fetch when the caller
// does not configure one.
const DefaultBatchSize = 25

// Item is a single post fetched from (or pushed for) a source.
//
// Items are immutable once produced. Score is kept as raw text; parsing into
// a number is the stats store's job and never fails.
type Item struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Author    string    `json:"author"`
	Score     string    `json:"score"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Permalink string    `json:"permalink,omitempty"`
	Body      string    `json:"body,omitempty"`
}

// Batch is the result of one fetch.
type Batch struct {
	// Items are in the order the backend returned them.
	Items []Item

	// RateHeaders maps lower-cased header names to their raw values.
	// May be nil or empty when the backend reports no quota information.
	RateHeaders map[string]string
}

// Fetcher retrieves the latest items for a source.
type Fetcher interface {
	// FetchLatest returns up to limit of the newest items for the named
	// source. Transport and API failures are reported as *FetchError.
	FetchLatest(ctx context.Context, name string, limit int) (Batch, error)
}

// FetcherFunc adapts a plain function to [Fetcher].
type FetcherFunc func(ctx context.Context, name string, limit int) (Batch, error)

// FetchLatest calls f.
func (f FetcherFunc) FetchLatest(ctx context.Context, name string, limit int) (Batch, error) {
	return f(ctx, name, limit)
}

// FetchError reports a failed fetch for a source.
type FetchError struct {
	Source string

	// StatusCode is the HTTP status returned by the backend, zero if the
	// request never produced a response.
	StatusCode int

	Err error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
