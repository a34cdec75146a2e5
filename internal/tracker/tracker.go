package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/jpalmerr/subtrack/internal/metrics"
	"github.com/jpalmerr/subtrack/internal/source"
	"github.com/jpalmerr/subtrack/internal/stats"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultErrorBackoff = 30 * time.Second
)

// State is a tracker's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

func (s State) String() string {
	return string(s)
}

// Gate is the quota gate a fetch loop passes through before every fetch.
// *quota.Gate satisfies it.
type Gate interface {
	Acquire(ctx context.Context) error
	Update(headers map[string]string)
}

// Observer is called by a worker after every successful stats update.
// It runs on the worker goroutine and must not block.
type Observer func(subreddit string, snap stats.Snapshot)

// Config tunes a tracker's fetch loop, worker pool and queue.
// Zero values are replaced by defaults.
type Config struct {
	// BatchSize is the number of items requested per fetch. Default 25.
	BatchSize int

	// PollInterval is the pause between successful fetches. Default 2s.
	PollInterval time.Duration

	// ErrorBackoff is the pause after a failed fetch. Default 30s.
	ErrorBackoff time.Duration

	// Workers is the worker pool size. Default runtime.NumCPU().
	Workers int

	// QueueCapacity bounds the queue; zero means unbounded.
	QueueCapacity int

	// Overflow applies when a bounded queue is full. Default block.
	Overflow OverflowPolicy
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = source.DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = defaultErrorBackoff
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.QueueCapacity < 0 {
		c.QueueCapacity = 0
	}
	if c.Overflow == "" {
		c.Overflow = OverflowBlock
	}
	return c
}

// settings carries everything a tracker needs besides its name, fetcher and
// gate. A registry passes the same settings to every tracker it creates.
type settings struct {
	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	observer Observer
}

// Option configures a [Tracker] or [Registry].
type Option func(*settings)

// WithConfig sets fetch loop, worker and queue tuning.
func WithConfig(cfg Config) Option {
	return func(s *settings) {
		s.cfg = cfg
	}
}

// WithClock replaces the wall clock used for the poll interval and error
// backoff, typically with clock.NewMock in tests. Nil clocks are ignored.
func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger. Nil loggers are ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records fetch, processing and lifecycle metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithObserver registers a callback invoked after every stats update.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		s.observer = o
	}
}

func newSettings(opts []Option) settings {
	s := settings{clock: clock.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	s.cfg = s.cfg.withDefaults()
	return s
}

// Tracker owns the fetch loop and worker pool for one subreddit.
//
// A tracker moves from idle to running on [Tracker.Start] and from running
// to stopped on [Tracker.Stop]; a stopped tracker can be started again and
// keeps its stats across runs. At most one fetch loop is active at a time.
//
// All methods are safe for concurrent use.
type Tracker struct {
	name    string
	fetcher source.Fetcher
	gate    Gate
	stats   *stats.Store
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	observe Observer

	mu     sync.Mutex
	state  State
	queue  *queue
	cancel context.CancelFunc
	done   chan struct{} // closed once the current run and every earlier one have quiesced
}

// NewTracker creates an idle [Tracker] for the named subreddit.
func NewTracker(name string, fetcher source.Fetcher, gate Gate, opts ...Option) *Tracker {
	return newTracker(name, fetcher, gate, newSettings(opts))
}

func newTracker(name string, fetcher source.Fetcher, gate Gate, s settings) *Tracker {
	t := &Tracker{
		name:    name,
		fetcher: fetcher,
		gate:    gate,
		stats:   stats.NewStore(),
		cfg:     s.cfg,
		clock:   s.clock,
		logger:  s.logger.With("subreddit", name),
		metrics: s.metrics,
		observe: s.observer,
		state:   StateIdle,
	}
	t.queue = t.newQueue()
	t.metrics.TrackerTransition("", string(StateIdle))
	return t
}

func (t *Tracker) newQueue() *queue {
	return newQueue(t.cfg.QueueCapacity, t.cfg.Overflow, func() {
		t.metrics.ItemDropped(t.name)
	})
}

// setState must be called with t.mu held.
func (t *Tracker) setState(s State) {
	if t.state == s {
		return
	}
	t.metrics.TrackerTransition(string(t.state), string(s))
	t.state = s
}

// Name returns the subreddit this tracker follows.
func (t *Tracker) Name() string {
	return t.name
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start launches the fetch loop and worker pool in background goroutines.
//
// Start is non-blocking and a no-op while the tracker is running. The run
// lasts until [Tracker.Stop] is called or ctx is cancelled; ctx should be a
// long-lived context, not a request-scoped one.
func (t *Tracker) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateRunning {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	q := t.queue
	prevDone := t.done
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.setState(StateRunning)

	var workers sync.WaitGroup
	for i := 0; i < t.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			t.work(runCtx, q)
		}()
	}

	fetchDone := make(chan struct{})
	go func() {
		defer close(fetchDone)
		// workers drain whatever is left once the producer side is closed
		defer t.endRun(done, q)

		// a previous run may still be finishing an in-flight fetch
		if prevDone != nil {
			select {
			case <-prevDone:
			case <-runCtx.Done():
				return
			}
		}
		t.fetchLoop(runCtx, q)
	}()

	go func() {
		<-fetchDone
		workers.Wait()
		cancel()
		// done is transitive: it closes only after every earlier run has too
		if prevDone != nil {
			<-prevDone
		}
		close(done)
	}()

	t.logger.Info("tracking started",
		"workers", t.cfg.Workers,
		"poll_interval", t.cfg.PollInterval.String(),
	)
}

// endRun closes a run's queue once its fetch loop has exited. A run that
// ended without Stop, for example because the parent context was cancelled,
// first marks the tracker stopped and swaps in a fresh queue so Submit
// keeps accepting items for the next run.
func (t *Tracker) endRun(done chan struct{}, q *queue) {
	t.mu.Lock()
	if t.done == done && t.state == StateRunning {
		t.setState(StateStopped)
		t.queue = t.newQueue()
	}
	t.mu.Unlock()

	q.close()
}

// Stop cancels the current run.
//
// The fetch loop exits at its next suspension point, then the run's queue is
// closed and workers exit after draining it. Items submitted after Stop are
// kept for the next run. Stop does not wait; use [Tracker.Wait] for that.
// Stop is safe to call before Start and more than once.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return
	}

	t.cancel()
	t.setState(StateStopped)
	t.queue = t.newQueue()

	t.logger.Info("tracking stopped")
}

// Wait blocks until the most recent run, and every run before it, has fully
// quiesced: no fetch loop or worker is left. It returns immediately if the
// tracker was never started, and ctx.Err() if ctx is done first.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tracker %s: %w", t.name, ctx.Err())
	}
}

// Submit enqueues an item directly, bypassing the fetch loop.
//
// Submit works in every state; items submitted while the tracker is idle or
// stopped are processed once it next starts. With a bounded queue, Submit
// may block (block policy) or return [ErrDropped] (drop-newest policy).
func (t *Tracker) Submit(ctx context.Context, item source.Item) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		q := t.currentQueue()
		err := q.push(ctx, item)
		// a concurrent Stop swapped queues; retry on the fresh one
		if errors.Is(err, ErrQueueClosed) && t.currentQueue() != q {
			continue
		}
		return err
	}
}

func (t *Tracker) currentQueue() *queue {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue
}

// QueueLen returns the number of items waiting for a worker.
func (t *Tracker) QueueLen() int {
	return t.currentQueue().size()
}

// Stats returns the entry for one item.
func (t *Tracker) Stats(id string) (stats.Snapshot, bool) {
	return t.stats.Get(id)
}

// AllStats returns every entry, sorted by item identifier.
func (t *Tracker) AllStats() []stats.Snapshot {
	return t.stats.All()
}

// Entries returns the number of distinct items observed.
func (t *Tracker) Entries() int {
	return t.stats.Len()
}

// fetchLoop polls the fetcher until ctx is cancelled. Failures are logged and
// retried after the error backoff; they never end the loop.
func (t *Tracker) fetchLoop(ctx context.Context, q *queue) {
	for ctx.Err() == nil {
		delay := t.cfg.PollInterval

		n, err := t.fetchOnce(ctx, q)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			t.metrics.FetchFailed(t.name)
			t.logger.Error("fetch failed",
				"error", err,
				"retry_in", t.cfg.ErrorBackoff.String(),
			)
			delay = t.cfg.ErrorBackoff
		default:
			t.logger.Info("fetched posts", "count", n)
		}

		if !t.sleep(ctx, delay) {
			return
		}
	}
}

// fetchOnce runs one acquire-fetch-update-enqueue cycle and returns the
// number of items enqueued. q is the run's own queue: Stop swaps t.queue
// before the run observes cancellation.
func (t *Tracker) fetchOnce(ctx context.Context, q *queue) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			t.logger.Error("fetcher panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("fetcher panic (correlation_id: %s)", correlationID)
		}
	}()

	if err := t.gate.Acquire(ctx); err != nil {
		return 0, err
	}

	batch, err := t.fetcher.FetchLatest(ctx, t.name, t.cfg.BatchSize)
	if err != nil {
		var fe *source.FetchError
		if !errors.As(err, &fe) {
			err = &source.FetchError{Source: t.name, Err: err}
		}
		return 0, err
	}

	t.gate.Update(batch.RateHeaders)
	t.metrics.FetchSucceeded(t.name, len(batch.Items))

	for _, item := range batch.Items {
		if item.Source == "" {
			item.Source = t.name
		}
		if err := q.push(ctx, item); err != nil {
			if errors.Is(err, ErrDropped) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// work drains q until it is closed and empty. Cancellation only switches the
// worker from waiting on ctx to draining whatever the fetch loop left behind.
func (t *Tracker) work(ctx context.Context, q *queue) {
	for {
		item, err := q.pop(ctx)
		if errors.Is(err, ErrQueueClosed) {
			return
		}
		if err != nil {
			break
		}
		t.process(item)
	}

	for {
		item, err := q.pop(context.Background())
		if err != nil {
			return
		}
		t.process(item)
	}
}

// process records one item. Errors and panics are logged and swallowed so
// the worker moves on to the next item.
func (t *Tracker) process(item source.Item) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			t.metrics.ProcessingFailed(t.name)
			t.logger.Error("worker panic",
				"correlation_id", correlationID,
				"post_id", item.ID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	snap, err := t.record(item)
	if err != nil {
		t.metrics.ProcessingFailed(t.name)
		t.logger.Warn("skipping post", "error", err)
		return
	}

	t.metrics.ItemProcessed(t.name)
	t.logger.Debug("post processed",
		"post_id", snap.ID,
		"score", snap.Score,
		"author", snap.Author,
	)

	if t.observe != nil {
		t.observe(t.name, snap)
	}
}

func (t *Tracker) record(item source.Item) (stats.Snapshot, error) {
	if strings.TrimSpace(item.ID) == "" {
		return stats.Snapshot{}, &ProcessingError{
			Source: t.name,
			ItemID: item.ID,
			Err:    errors.New("missing item id"),
		}
	}
	return t.stats.Record(item.ID, item.Score, item.Author), nil
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func (t *Tracker) sleep(ctx context.Context, d time.Duration) bool {
	timer := t.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
