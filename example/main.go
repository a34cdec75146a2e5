package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/subtrack"
	"github.com/jpalmerr/subtrack/example/mockreddit"
)

func main() {
	// start the mock Reddit API (see mockreddit/)
	mock := &http.Server{
		Addr:              ":9999",
		Handler:           mockreddit.Handler(slog.Default()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := mock.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock server error", "error", err)
		}
	}()
	defer mock.Close()
	time.Sleep(100 * time.Millisecond)

	st, err := subtrack.New(
		subtrack.WithSubreddits("golang", "rust"),
		subtrack.WithPollInterval(5*time.Second),
		subtrack.WithPort(8080),
		subtrack.WithRedditClient(subtrack.RedditConfig{
			BaseURL:     "http://localhost:9999",
			UserAgent:   "linux:subtrack-demo:v1.0",
			MinInterval: time.Second,
		}),
		// report posts that climb past a threshold
		subtrack.WithUpdateCallback(func(u subtrack.Update) {
			if u.Stats.Score >= 20 {
				slog.Info("hot post", "subreddit", u.Source, "post_id", u.Stats.ID, "score", u.Stats.Score)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create subtrack", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Subtrack Demo")
	fmt.Println()
	fmt.Println("  Tracking r/golang and r/rust on a mock Reddit API")
	fmt.Println()
	fmt.Println("  curl localhost:8080/api/trackers")
	fmt.Println("  curl localhost:8080/api/stats/golang")
	fmt.Println("  curl -X POST localhost:8080/api/track/python")
	fmt.Println("  curl -N localhost:8080/api/stream")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.Start(ctx); err != nil {
		slog.Error("subtrack error", "error", err)
		os.Exit(1)
	}
}
