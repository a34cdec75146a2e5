// Standalone mock Reddit API for trying the CLI without network access.
//
// Usage:
//
//	go run ./example/cmd/mockreddit
//
// Then in another terminal:
//
//	go run ./cmd/subtrack serve -c example/config.yaml
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/subtrack/example/mockreddit"
)

func main() {
	fmt.Println("Mock Reddit API starting on :9999")
	fmt.Println("Listings at http://localhost:9999/r/{subreddit}/new.json")
	fmt.Println("Budget: 100 requests per 10 minutes")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	srv := &http.Server{
		Addr:              ":9999",
		Handler:           mockreddit.Handler(slog.Default()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
