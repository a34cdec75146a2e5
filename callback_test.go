package subtrack

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of worker
// goroutines logging through one handler.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWithUpdateCallback_InvokedOnUpdate(t *testing.T) {
	var callCount atomic.Int32

	st := newTestSubtrack(t,
		WithFetcher(staticFetcher(Item{ID: "p1", Score: "1"})),
		WithUpdateCallback(func(u Update) {
			callCount.Add(1)
		}),
	)
	defer shutdown(t, st)

	if err := st.Track("golang"); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return callCount.Load() > 0 })
}

func TestWithUpdateCallback_ReceivesCorrectFields(t *testing.T) {
	var (
		mu     sync.Mutex
		update Update
		called bool
	)

	st := newTestSubtrack(t,
		WithFetcher(idleFetcher()),
		WithUpdateCallback(func(u Update) {
			mu.Lock()
			defer mu.Unlock()
			update = u
			called = true
		}),
	)
	defer shutdown(t, st)

	before := time.Now()
	if err := st.Track("golang"); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	err := st.Submit(context.Background(), Item{ID: "abc", Source: "r/GoLang", Author: "gopher", Score: "-4"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return called
	})

	mu.Lock()
	defer mu.Unlock()

	if update.Source != "golang" {
		t.Errorf("Source = %q, want %q", update.Source, "golang")
	}
	if update.Stats.ID != "abc" {
		t.Errorf("Stats.ID = %q, want %q", update.Stats.ID, "abc")
	}
	if update.Stats.Author != "gopher" {
		t.Errorf("Stats.Author = %q, want %q", update.Stats.Author, "gopher")
	}
	if update.Stats.Score != -4 {
		t.Errorf("Stats.Score = %d, want -4", update.Stats.Score)
	}
	if update.RecordedAt.Before(before) {
		t.Errorf("RecordedAt = %v, want after %v", update.RecordedAt, before)
	}
}

func TestWithUpdateCallback_PanicRecovery(t *testing.T) {
	var normalCalled atomic.Bool

	// use a logger that captures output to verify panic was logged
	var logBuf syncBuffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	st := newTestSubtrack(t,
		WithFetcher(staticFetcher(Item{ID: "p1"})),
		WithUpdateCallback(func(u Update) {
			panic("intentional test panic")
		}),
		WithUpdateCallback(func(u Update) { // should still be called after panic
			normalCalled.Store(true)
		}),
		WithLogger(logger),
	)
	defer shutdown(t, st)

	if err := st.Track("golang"); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	waitFor(t, 2*time.Second, normalCalled.Load)

	if !strings.Contains(logBuf.String(), "update callback panicked") {
		t.Error("panic should have been logged")
	}

	// the tracker keeps running after callback panics
	for _, info := range st.Trackers() {
		if info.State != StateRunning {
			t.Errorf("tracker %s state = %s, want running", info.Name, info.State)
		}
	}
}

func TestWithUpdateCallback_NilIsSafe(t *testing.T) {
	st := newTestSubtrack(t,
		WithFetcher(staticFetcher(Item{ID: "p1"})),
		WithUpdateCallback(nil),
	)
	defer shutdown(t, st)

	if len(st.callbacks) != 0 {
		t.Errorf("callbacks = %d, want 0", len(st.callbacks))
	}
	if err := st.Track("golang"); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, ok := st.Stats("golang", "p1")
		return ok
	})
}

func TestWithUpdateCallback_ExecutionOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []int
	)
	record := func(n int) func(Update) {
		return func(Update) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, n)
		}
	}

	st := newTestSubtrack(t,
		WithFetcher(idleFetcher()),
		WithWorkers(1),
		WithUpdateCallback(record(1)),
		WithUpdateCallback(record(2)),
		WithUpdateCallback(record(3)),
	)
	defer shutdown(t, st)

	if err := st.Track("golang"); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if err := st.Submit(context.Background(), Item{ID: "one", Source: "golang"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for i, n := range order {
		if n != i+1 {
			t.Fatalf("callback order = %v, want [1 2 3]", order)
		}
	}
}

func TestWithUpdateCallback_MultipleSubreddits(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
	)

	st := newTestSubtrack(t,
		WithFetcher(staticFetcher(Item{ID: "p1"})),
		WithUpdateCallback(func(u Update) {
			mu.Lock()
			defer mu.Unlock()
			seen[u.Source] = true
		}),
	)
	defer shutdown(t, st)

	for _, name := range []string{"golang", "rust", "python"} {
		if err := st.Track(name); err != nil {
			t.Fatalf("Track(%s) error = %v", name, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})
}
