package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/subtrack/internal/metrics"
	"github.com/jpalmerr/subtrack/internal/source"
	"github.com/jpalmerr/subtrack/internal/stats"
)

func newTestRegistry(f source.Fetcher, opts ...Option) *Registry {
	opts = append([]Option{WithConfig(fastConfig()), WithLogger(testLogger())}, opts...)
	return NewRegistry(f, &openGate{}, opts...)
}

func shutdown(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"golang", "golang"},
		{"GoLang", "golang"},
		{"  golang  ", "golang"},
		{"r/golang", "golang"},
		{"/r/golang", "golang"},
		{"r/", ""},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestRegistry_ConcurrentStartSameName verifies racing starters share one
// tracker and one fetch loop.
// Run with: go test -race ./internal/tracker/...
func TestRegistry_ConcurrentStartSameName(t *testing.T) {
	f := &fakeFetcher{fn: func(context.Context, string, int) (source.Batch, error) {
		time.Sleep(2 * time.Millisecond)
		return source.Batch{}, nil
	}}
	r := newTestRegistry(f)
	defer shutdown(t, r)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Start("golang"); err != nil {
				t.Errorf("Start() error = %v", err)
			}
		}()
	}
	wg.Wait()

	infos := r.Trackers()
	if len(infos) != 1 {
		t.Fatalf("Trackers() returned %d trackers, want 1", len(infos))
	}
	if infos[0].State != StateRunning {
		t.Errorf("State = %s, want running", infos[0].State)
	}

	waitFor(t, time.Second, func() bool { return f.Calls() >= 5 })
	if got := f.MaxInFlight(); got != 1 {
		t.Errorf("max concurrent fetches = %d, want 1", got)
	}
}

func TestRegistry_NamesAreNormalised(t *testing.T) {
	r := newTestRegistry(&fakeFetcher{})
	defer shutdown(t, r)

	_ = r.Start("GoLang")
	_ = r.Start("r/golang")

	infos := r.Trackers()
	if len(infos) != 1 || infos[0].Name != "golang" {
		t.Errorf("Trackers() = %+v, want single tracker named golang", infos)
	}
}

func TestRegistry_InvalidArguments(t *testing.T) {
	r := newTestRegistry(&fakeFetcher{})
	defer shutdown(t, r)

	tests := []struct {
		name string
		call func() error
	}{
		{"start empty", func() error { return r.Start("") }},
		{"start blank", func() error { return r.Start("  ") }},
		{"stop empty", func() error { return r.Stop("") }},
		{"remove empty", func() error { return r.Remove("") }},
		{"submit without source", func() error {
			return r.Submit(context.Background(), source.Item{ID: "a"})
		}},
		{"submit without id", func() error {
			return r.Submit(context.Background(), source.Item{Source: "golang"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}

	if got := len(r.Trackers()); got != 0 {
		t.Errorf("Trackers() after invalid calls = %d trackers, want 0", got)
	}
}

func TestRegistry_UnknownName(t *testing.T) {
	r := newTestRegistry(&fakeFetcher{})
	defer shutdown(t, r)

	if err := r.Stop("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stop() error = %v, want ErrNotFound", err)
	}
	if err := r.Remove("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove() error = %v, want ErrNotFound", err)
	}
	if _, err := r.AllStats("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AllStats() error = %v, want ErrNotFound", err)
	}
	if _, ok := r.Stats("nope", "a"); ok {
		t.Error("Stats() on unknown tracker reported ok")
	}
	if _, ok := r.Tracker("nope"); ok {
		t.Error("Tracker() on unknown name reported ok")
	}
}

// TestRegistry_StopThenStartReusesTracker verifies Stop keeps the tracker and
// its stats, and a later Start resumes it.
func TestRegistry_StopThenStartReusesTracker(t *testing.T) {
	r := newTestRegistry(&fakeFetcher{})
	defer shutdown(t, r)

	_ = r.Start("golang")
	first, _ := r.Tracker("golang")

	_ = r.Submit(context.Background(), source.Item{ID: "a", Source: "golang", Score: "3"})
	waitFor(t, time.Second, func() bool { return first.Entries() == 1 })

	if err := r.Stop("golang"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if first.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", first.State())
	}

	_ = r.Start("golang")
	second, _ := r.Tracker("golang")
	if first != second {
		t.Error("Start after Stop created a new tracker")
	}
	if second.State() != StateRunning {
		t.Errorf("State() = %s, want running", second.State())
	}
	if snap, ok := r.Stats("golang", "a"); !ok || snap.Score != 3 {
		t.Errorf("Stats() = %+v, %v; want score 3", snap, ok)
	}
}

// TestRegistry_RemoveForgetsTracker verifies Remove stops the tracker and a
// later Start begins with empty stats.
func TestRegistry_RemoveForgetsTracker(t *testing.T) {
	r := newTestRegistry(&fakeFetcher{})
	defer shutdown(t, r)

	_ = r.Start("golang")
	old, _ := r.Tracker("golang")
	_ = r.Submit(context.Background(), source.Item{ID: "a", Source: "golang", Score: "1"})
	waitFor(t, time.Second, func() bool { return old.Entries() == 1 })

	if err := r.Remove("golang"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if old.State() != StateStopped {
		t.Errorf("removed tracker State() = %s, want stopped", old.State())
	}
	if _, ok := r.Tracker("golang"); ok {
		t.Error("Tracker() found removed tracker")
	}

	_ = r.Start("golang")
	fresh, _ := r.Tracker("golang")
	if fresh == old {
		t.Error("Start after Remove reused the old tracker")
	}
	if fresh.Entries() != 0 {
		t.Errorf("fresh tracker Entries() = %d, want 0", fresh.Entries())
	}
}

// TestRegistry_SubmitRacingRemove verifies an item whose Submit was still
// blocked on a tracker when it was removed ends up on the replacement
// tracker instead of vanishing with the old one.
func TestRegistry_SubmitRacingRemove(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()

	r := newTestRegistry(&fakeFetcher{},
		WithConfig(Config{
			PollInterval:  5 * time.Millisecond,
			ErrorBackoff:  5 * time.Millisecond,
			Workers:       1,
			QueueCapacity: 1,
		}),
		WithObserver(func(string, stats.Snapshot) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
		}),
	)
	defer shutdown(t, r)

	ctx := context.Background()
	_ = r.Start("golang")
	old, _ := r.Tracker("golang")

	// the only worker holds "a"; "b" fills the queue and "c" blocks
	_ = r.Submit(ctx, source.Item{ID: "a", Source: "golang", Score: "1"})
	<-entered
	_ = r.Submit(ctx, source.Item{ID: "b", Source: "golang", Score: "2"})

	errc := make(chan error, 1)
	go func() {
		errc <- r.Submit(ctx, source.Item{ID: "c", Source: "golang", Score: "3"})
	}()
	time.Sleep(20 * time.Millisecond)

	if err := r.Remove("golang"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit() still blocked after Remove")
	}

	fresh, ok := r.Tracker("golang")
	if !ok {
		t.Fatal("Tracker() found no replacement tracker")
	}
	if fresh == old {
		t.Fatal("item stayed on the removed tracker")
	}
	if got := fresh.QueueLen(); got != 1 {
		t.Errorf("replacement QueueLen() = %d, want 1", got)
	}
}

// TestRegistry_SubmitCreatesIdleTracker verifies Submit creates but does not
// start a tracker.
func TestRegistry_SubmitCreatesIdleTracker(t *testing.T) {
	f := &fakeFetcher{}
	r := newTestRegistry(f)
	defer shutdown(t, r)

	err := r.Submit(context.Background(), source.Item{ID: "a", Source: "r/Golang", Score: "1"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	infos := r.Trackers()
	if len(infos) != 1 {
		t.Fatalf("Trackers() returned %d trackers, want 1", len(infos))
	}
	if infos[0].Name != "golang" || infos[0].State != StateIdle || infos[0].Queued != 1 {
		t.Errorf("Trackers()[0] = %+v, want idle golang with 1 queued", infos[0])
	}
	if f.Calls() != 0 {
		t.Errorf("fetcher called %d times for an idle tracker", f.Calls())
	}

	_ = r.Start("golang")
	waitFor(t, time.Second, func() bool {
		_, ok := r.Stats("golang", "a")
		return ok
	})
}

func TestRegistry_TrackersSorted(t *testing.T) {
	r := newTestRegistry(&fakeFetcher{})
	defer shutdown(t, r)

	for _, name := range []string{"rust", "golang", "python"} {
		_ = r.Start(name)
	}

	infos := r.Trackers()
	want := []string{"golang", "python", "rust"}
	if len(infos) != len(want) {
		t.Fatalf("Trackers() returned %d trackers, want %d", len(infos), len(want))
	}
	for i, name := range want {
		if infos[i].Name != name {
			t.Errorf("Trackers()[%d].Name = %q, want %q", i, infos[i].Name, name)
		}
	}
}

// TestRegistry_IndependentTrackers verifies a failing subreddit does not
// disturb a healthy one.
func TestRegistry_IndependentTrackers(t *testing.T) {
	f := &fakeFetcher{fn: func(_ context.Context, name string, _ int) (source.Batch, error) {
		if name == "broken" {
			return source.Batch{}, errors.New("403 forbidden")
		}
		return source.Batch{Items: []source.Item{{ID: "p1", Score: "7"}}}, nil
	}}
	r := newTestRegistry(f)
	defer shutdown(t, r)

	_ = r.Start("broken")
	_ = r.Start("golang")

	waitFor(t, time.Second, func() bool {
		_, ok := r.Stats("golang", "p1")
		return ok
	})

	all, err := r.AllStats("broken")
	if err != nil {
		t.Fatalf("AllStats() error = %v", err)
	}
	if len(all) != 0 {
		t.Errorf("broken tracker has %d entries, want 0", len(all))
	}
}

func TestRegistry_ShutdownIsIdempotent(t *testing.T) {
	r := newTestRegistry(&fakeFetcher{})

	_ = r.Start("golang")
	_ = r.Start("rust")
	tr, _ := r.Tracker("golang")

	shutdown(t, r)
	shutdown(t, r)

	if tr.State() != StateStopped {
		t.Errorf("State() after Shutdown = %s, want stopped", tr.State())
	}
	if err := r.Start("golang"); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Shutdown error = %v, want ErrClosed", err)
	}
	err := r.Submit(context.Background(), source.Item{ID: "a", Source: "golang"})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Shutdown error = %v, want ErrClosed", err)
	}
	if len(r.Trackers()) != 0 {
		t.Error("Trackers() after Shutdown is not empty")
	}
}

func TestRegistry_ShutdownTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	f := &fakeFetcher{fn: func(context.Context, string, int) (source.Batch, error) {
		<-block
		return source.Batch{}, nil
	}}
	r := newTestRegistry(f)
	_ = r.Start("golang")
	waitFor(t, time.Second, func() bool { return f.Calls() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestRegistry_TrackerMetrics(t *testing.T) {
	m := metrics.New()
	r := newTestRegistry(&fakeFetcher{}, WithMetrics(m))

	_ = r.Start("golang")
	_ = r.Submit(context.Background(), source.Item{ID: "a", Source: "rust"})

	gauge := func(state State) float64 {
		g, err := m.Registry().Gather()
		if err != nil {
			t.Fatalf("Gather() error = %v", err)
		}
		for _, mf := range g {
			if mf.GetName() != "subtrack_trackers" {
				continue
			}
			for _, metric := range mf.GetMetric() {
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == "state" && lp.GetValue() == string(state) {
						return metric.GetGauge().GetValue()
					}
				}
			}
		}
		return 0
	}

	if got := gauge(StateRunning); got != 1 {
		t.Errorf("running trackers = %v, want 1", got)
	}
	if got := gauge(StateIdle); got != 1 {
		t.Errorf("idle trackers = %v, want 1", got)
	}

	_ = r.Remove("rust")
	if got := gauge(StateIdle); got != 0 {
		t.Errorf("idle trackers after Remove = %v, want 0", got)
	}

	shutdown(t, r)
	if got := gauge(StateStopped); got != 1 {
		t.Errorf("stopped trackers after Shutdown = %v, want 1", got)
	}
}
