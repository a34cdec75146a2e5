// Package server provides the HTTP API for subtrack.
//
// This package is internal to subtrack and handles all HTTP concerns:
//
//   - Tracking control: start, stop and remove subreddit trackers
//   - Item submission and per-item stats lookup as JSON
//   - Direct post fetches at "/api/posts"
//   - Server-Sent Events: live stats updates at "/api/stream"
//   - Prometheus metrics at "/metrics" and a health check at "/healthz"
//
// Errors are JSON objects with an "error" field. Unexpected failures also
// carry a "correlation_id" that matches the server log entry.
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the subtrack library should not need to interact with this
// package directly. The server is started automatically by [subtrack.Subtrack.Start].
package server
