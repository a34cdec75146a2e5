// Package quota implements the shared rate-quota gate that every tracker's
// fetch loop passes through before calling the fetch backend.
//
// The gate holds two values, the remaining call count and the instant at
// which the quota resets, and is fed from the rate-limit headers returned by
// each fetch. Both values are read and written under one mutex so a reader
// never sees a remaining count from one update paired with a reset instant
// from another.
package quota

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jpalmerr/subtrack/internal/metrics"
)

// Header names read by [Gate.Update]. Matching is case-insensitive.
const (
	HeaderRemaining = "x-ratelimit-remaining"
	HeaderReset     = "x-ratelimit-reset"
)

const (
	defaultRemaining = 100
	defaultResetIn   = 10 * time.Minute
)

// State is a consistent snapshot of the gate.
type State struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Available reports whether a call is permitted at instant now.
func (s State) Available(now time.Time) bool {
	return s.Remaining > 0 || !now.Before(s.ResetAt)
}

// Gate is a process-wide quota shared by all trackers of a registry.
//
// Gate is safe for concurrent use. The zero value is not usable; create
// gates with [New].
type Gate struct {
	clock   clock.Clock
	metrics *metrics.Metrics

	initRemaining int
	initResetIn   time.Duration

	mu    sync.Mutex
	state State
}

// Option configures a [Gate].
type Option func(*Gate)

// WithClock replaces the wall clock, typically with clock.NewMock in tests.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithMetrics records quota updates and waits into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithInitialState overrides the starting remaining count and reset window.
func WithInitialState(remaining int, resetIn time.Duration) Option {
	return func(g *Gate) {
		g.initRemaining = remaining
		g.initResetIn = resetIn
	}
}

// New creates a [Gate]. It starts with 100 remaining calls and a reset ten
// minutes out, so the first acquire never blocks.
func New(opts ...Option) *Gate {
	g := &Gate{
		clock:         clock.New(),
		initRemaining: defaultRemaining,
		initResetIn:   defaultResetIn,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.state = State{
		Remaining: g.initRemaining,
		ResetAt:   g.clock.Now().Add(g.initResetIn),
	}
	return g
}

// Acquire blocks until the quota is believed available.
//
// When the remaining count is exhausted and the reset instant lies in the
// future, Acquire sleeps until that instant and re-checks, so an update that
// pushes the reset further out during the wait is honoured. It returns
// ctx.Err() if ctx is done first.
func (g *Gate) Acquire(ctx context.Context) error {
	var waited time.Duration
	defer func() {
		if waited > 0 {
			g.metrics.QuotaWaited(waited)
		}
	}()

	for {
		wait := g.waitTime()
		if wait <= 0 {
			return ctx.Err()
		}

		timer := g.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			waited += wait
		}
	}
}

// waitTime returns how long a caller must wait right now, zero if the quota
// is available.
func (g *Gate) waitTime() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.Remaining > 0 {
		return 0
	}
	return g.state.ResetAt.Sub(g.clock.Now())
}

// Update replaces the quota state from rate-limit headers.
//
// Both the remaining count and the reset offset (seconds from now) must be
// present and numeric, otherwise the state is left untouched. Fractional
// values such as "598.0" are accepted; the remaining count is truncated and
// clamped at zero. Update never fails.
func (g *Gate) Update(headers map[string]string) {
	rawRemaining, ok := lookup(headers, HeaderRemaining)
	if !ok {
		return
	}
	rawReset, ok := lookup(headers, HeaderReset)
	if !ok {
		return
	}

	remaining, ok := parseNumber(rawRemaining)
	if !ok {
		return
	}
	reset, ok := parseNumber(rawReset)
	if !ok || reset < 0 {
		return
	}

	n := int(math.Max(0, math.Min(remaining, math.MaxInt32)))

	g.mu.Lock()
	g.state = State{
		Remaining: n,
		ResetAt:   g.clock.Now().Add(time.Duration(reset * float64(time.Second))),
	}
	g.mu.Unlock()

	g.metrics.QuotaUpdated(n)
}

// State returns a snapshot of the remaining count and reset instant.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// lookup finds key in headers ignoring case.
func lookup(headers map[string]string, key string) (string, bool) {
	if v, ok := headers[key]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// parseNumber parses a finite decimal number.
func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
