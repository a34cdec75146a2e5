package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/subtrack/internal/feed"
	"github.com/jpalmerr/subtrack/internal/metrics"
	"github.com/jpalmerr/subtrack/internal/source"
	"github.com/jpalmerr/subtrack/internal/stats"
	"github.com/jpalmerr/subtrack/internal/tracker"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	// maxItemBodySize bounds POST /api/items request bodies.
	maxItemBodySize = 1 << 20

	defaultPostsLimit = source.DefaultBatchSize
	maxPostsLimit     = 100
)

// Tracking is the registry surface the API drives. *tracker.Registry
// satisfies it.
type Tracking interface {
	Start(name string) error
	Stop(name string) error
	Remove(name string) error
	Submit(ctx context.Context, item source.Item) error
	Stats(name, id string) (stats.Snapshot, bool)
	AllStats(name string) ([]stats.Snapshot, error)
	Trackers() []tracker.Info
}

// Config wires a [Server] to the rest of subtrack. Registry is required;
// every other dependency is optional and the routes that need it answer 503
// (or 404 for metrics) when it is missing.
type Config struct {
	Port     int
	Registry Tracking

	// Posts serves GET /api/posts. It should pass through the same quota
	// gate as the trackers.
	Posts source.Fetcher

	Hub     *feed.Hub
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server handles HTTP requests for the subtrack API.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	registry Tracking
	posts    source.Fetcher
	hub      *feed.Hub
	metrics  *metrics.Metrics
	port     int
	logger   *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a new HTTP [Server]. The server is not started until
// [Server.Start] is called.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: cfg.Registry,
		posts:    cfg.Posts,
		hub:      cfg.Hub,
		metrics:  cfg.Metrics,
		port:     cfg.Port,
		logger:   logger,
	}
}

// Handler returns the API routes. Start serves the same handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/track/{subreddit}", s.handleTrack)
	mux.HandleFunc("DELETE /api/track/{subreddit}", s.handleUntrack)
	mux.HandleFunc("GET /api/trackers", s.handleTrackers)
	mux.HandleFunc("POST /api/items", s.handleSubmit)
	mux.HandleFunc("GET /api/stats/{subreddit}", s.handleAllStats)
	mux.HandleFunc("GET /api/stats/{subreddit}/{id}", s.handleStats)
	mux.HandleFunc("GET /api/posts", s.handlePosts)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.recoverer(mux)
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so long-lived handlers like the
		// SSE stream end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the address the server is listening on, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// handleTrack starts tracking a subreddit.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("subreddit")
	if err := s.registry.Start(name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"subreddit": tracker.Normalize(name),
		"state":     tracker.StateRunning.String(),
	})
}

// handleUntrack stops tracking a subreddit; ?remove=true also forgets it.
func (s *Server) handleUntrack(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("subreddit")

	remove, _ := strconv.ParseBool(r.URL.Query().Get("remove"))
	var err error
	if remove {
		err = s.registry.Remove(name)
	} else {
		err = s.registry.Stop(name)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	state := tracker.StateStopped.String()
	if remove {
		state = "removed"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"subreddit": tracker.Normalize(name),
		"state":     state,
	})
}

func (s *Server) handleTrackers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Trackers())
}

// handleSubmit enqueues one item posted as JSON.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxItemBodySize)

	var item source.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid item: " + err.Error()})
		return
	}

	if err := s.registry.Submit(r.Context(), item); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"subreddit": tracker.Normalize(item.Source),
		"id":        item.ID,
	})
}

func (s *Server) handleAllStats(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("subreddit")
	all, err := s.registry.AllStats(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Subreddit string           `json:"subreddit"`
		Stats     []stats.Snapshot `json:"stats"`
	}{tracker.Normalize(name), all})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	name, id := r.PathValue("subreddit"), r.PathValue("id")
	snap, ok := s.registry.Stats(name, id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorBody{
			Error: fmt.Sprintf("no stats for %q in %s", id, tracker.Normalize(name)),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handlePosts fetches the newest posts of a subreddit directly, without
// tracking it.
func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	if s.posts == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "post fetching is not configured"})
		return
	}

	q := r.URL.Query()
	name := tracker.Normalize(q.Get("subreddit"))
	if name == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "subreddit query parameter is required"})
		return
	}

	limit := defaultPostsLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPostsLimit {
			s.writeJSON(w, http.StatusBadRequest, errorBody{
				Error: fmt.Sprintf("limit must be an integer between 1 and %d", maxPostsLimit),
			})
			return
		}
		limit = n
	}

	batch, err := s.posts.FetchLatest(r.Context(), name, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items := batch.Items
	if items == nil {
		items = []source.Item{}
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStream streams stats updates via Server-Sent Events. An optional
// ?subreddit= query restricts the stream to one subreddit.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "update stream is not configured"})
		return
	}

	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	filter := tracker.Normalize(r.URL.Query().Get("subreddit"))

	rc := http.NewResponseController(w)

	// may not be supported for some ResponseWriter impls
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	// commit headers so clients see the stream open before the first update
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case update, ok := <-ch:
			if !ok {
				return
			}
			if filter != "" && update.Source != filter {
				continue
			}
			data, err := json.Marshal(update)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on both client disconnect and server shutdown
			return
		}
	}
}

type errorBody struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeError maps err to a status code. Unrecognised errors are reported as
// 500 with a correlation ID that is also logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *source.FetchError

	switch {
	case errors.Is(err, tracker.ErrInvalidArgument):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, tracker.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, tracker.ErrClosed):
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.Is(err, tracker.ErrDropped):
		s.writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to send
		return
	case errors.As(err, &fe):
		s.logger.Warn("post fetch failed", "subreddit", fe.Source, "error", err)
		s.writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		correlationID := uuid.NewString()
		s.logger.Error("request failed",
			"correlation_id", correlationID,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:         "internal error",
			CorrelationID: correlationID,
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// recoverer turns handler panics into 500 responses with a correlation ID.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			correlationID := uuid.NewString()
			s.logger.Error("handler panic",
				"correlation_id", correlationID,
				"method", r.Method,
				"path", r.URL.Path,
				"panic", fmt.Sprintf("%v", rec),
				"stack", string(debug.Stack()),
			)
			s.writeJSON(w, http.StatusInternalServerError, errorBody{
				Error:         "internal error",
				CorrelationID: correlationID,
			})
		}()
		next.ServeHTTP(w, r)
	})
}
