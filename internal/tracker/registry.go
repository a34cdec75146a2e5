package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/subtrack/internal/source"
	"github.com/jpalmerr/subtrack/internal/stats"
)

// Info is a point-in-time summary of one tracker.
type Info struct {
	Name    string `json:"subreddit"`
	State   State  `json:"state"`
	Queued  int    `json:"queued"`
	Entries int    `json:"entries"`
}

// Registry maps subreddit names to trackers, creating them on first use.
//
// Exactly one tracker is ever constructed per name, however many callers
// race to start or submit to it. The registry lock guards only the map;
// fetching and processing never hold it.
//
// All methods are safe for concurrent use.
type Registry struct {
	fetcher  source.Fetcher
	gate     Gate
	settings settings

	// ctx parents every tracker run; cancelled by Shutdown
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	trackers map[string]*Tracker
	closed   bool
}

// NewRegistry creates an empty [Registry]. Every tracker it creates shares
// fetcher and gate.
func NewRegistry(fetcher source.Fetcher, gate Gate, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		fetcher:  fetcher,
		gate:     gate,
		settings: newSettings(opts),
		ctx:      ctx,
		cancel:   cancel,
		trackers: make(map[string]*Tracker),
	}
}

// Normalize canonicalises a subreddit name for use as a registry key:
// surrounding whitespace and an "r/" prefix are removed and the result is
// lower-cased, matching Reddit's case-insensitive names.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(strings.TrimPrefix(name, "/"), "r/")
	return strings.ToLower(strings.TrimSpace(name))
}

// Start begins tracking name, creating its tracker if needed. Starting a
// running tracker is a no-op.
func (r *Registry) Start(name string) error {
	key := Normalize(name)
	if key == "" {
		return fmt.Errorf("%w: subreddit name is required", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	// creation and first start happen under one lock so concurrent callers
	// observe a single tracker with a single fetch loop
	t := r.lockedGetOrCreate(key)
	t.Start(r.ctx)
	return nil
}

// Stop stops the named tracker but keeps it, with its stats, for a later
// Start.
func (r *Registry) Stop(name string) error {
	t, err := r.lookup(name)
	if err != nil {
		return err
	}
	t.Stop()
	return nil
}

// Remove stops the named tracker and forgets it. A later Start creates a
// fresh tracker with empty stats.
func (r *Registry) Remove(name string) error {
	key := Normalize(name)
	if key == "" {
		return fmt.Errorf("%w: subreddit name is required", ErrInvalidArgument)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	t, ok := r.trackers[key]
	if ok {
		delete(r.trackers, key)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	t.Stop()
	r.settings.metrics.TrackerTransition(string(t.State()), "")
	return nil
}

// Submit enqueues item on the tracker for item.Source, creating the tracker
// (without starting it) if needed. An item that lands on a tracker removed
// while Submit was running is submitted again to its replacement.
func (r *Registry) Submit(ctx context.Context, item source.Item) error {
	key := Normalize(item.Source)
	if key == "" {
		return fmt.Errorf("%w: item subreddit is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("%w: item id is required", ErrInvalidArgument)
	}

	for {
		t, err := r.getOrCreate(key)
		if err != nil {
			return err
		}
		if err := t.Submit(ctx, item); err != nil {
			return err
		}
		// a concurrent Remove may have discarded t while the item was queued
		if r.holds(key, t) {
			return nil
		}
	}
}

func (r *Registry) holds(key string, t *Tracker) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackers[key] == t
}

// Tracker returns the tracker for name, if one exists.
func (r *Registry) Tracker(name string) (*Tracker, bool) {
	t, err := r.lookup(name)
	return t, err == nil
}

// Stats returns the stats entry for one item of one subreddit.
func (r *Registry) Stats(name, id string) (stats.Snapshot, bool) {
	t, err := r.lookup(name)
	if err != nil {
		return stats.Snapshot{}, false
	}
	return t.Stats(id)
}

// AllStats returns every stats entry for a subreddit.
func (r *Registry) AllStats(name string) ([]stats.Snapshot, error) {
	t, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return t.AllStats(), nil
}

// Trackers returns a summary of every tracker, sorted by name.
func (r *Registry) Trackers() []Info {
	r.mu.RLock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(trackers))
	for _, t := range trackers {
		infos = append(infos, Info{
			Name:    t.Name(),
			State:   t.State(),
			Queued:  t.QueueLen(),
			Entries: t.Entries(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Shutdown stops every tracker, waits for all of them to quiesce and
// releases the registry. It returns ctx.Err() (wrapped) if ctx is done
// before every tracker has finished. Shutdown is idempotent; later calls
// return nil immediately, and other operations return [ErrClosed].
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.trackers = nil
	r.mu.Unlock()

	for _, t := range trackers {
		t.Stop()
	}
	r.cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range trackers {
		g.Go(func() error {
			return t.Wait(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	r.settings.logger.Info("registry shut down", "trackers", len(trackers))
	return nil
}

func (r *Registry) lookup(name string) (*Tracker, error) {
	key := Normalize(name)
	if key == "" {
		return nil, fmt.Errorf("%w: subreddit name is required", ErrInvalidArgument)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}
	t, ok := r.trackers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return t, nil
}

func (r *Registry) getOrCreate(key string) (*Tracker, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	t, ok := r.trackers[key]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.lockedGetOrCreate(key), nil
}

// lockedGetOrCreate must be called with r.mu held for writing.
func (r *Registry) lockedGetOrCreate(key string) *Tracker {
	if t, ok := r.trackers[key]; ok {
		return t
	}
	t := newTracker(key, r.fetcher, r.gate, r.settings)
	r.trackers[key] = t
	return t
}
