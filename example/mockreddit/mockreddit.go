// Package mockreddit serves a fake Reddit listing API for demos and manual
// testing of the subtrack CLI.
//
// Every subreddit starts with a handful of posts. On each request scores
// drift up or down and, now and then, a new post appears. Responses carry
// x-ratelimit headers with a budget of 100 requests per 10-minute window, so
// the quota gate can be watched at work.
package mockreddit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	windowRequests = 100
	windowLength   = 10 * time.Minute
	initialPosts   = 5
)

var authors = []string{"gopher", "rustacean", "pythonista", "lurker", "mod_team", "throwaway42"}

type post struct {
	ID         string  `json:"id"`
	Subreddit  string  `json:"subreddit"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	Author     string  `json:"author"`
	Score      int     `json:"score"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

type child struct {
	Kind string `json:"kind"`
	Data *post  `json:"data"`
}

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []child `json:"children"`
	} `json:"data"`
}

// server holds per-subreddit posts and the shared rate-limit window.
type server struct {
	logger *slog.Logger

	mu          sync.Mutex
	rng         *rand.Rand
	posts       map[string][]*post
	nextID      int
	windowStart time.Time
	used        int
}

// Handler returns the mock API. It serves GET /r/{subreddit}/new.json.
func Handler(logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{
		logger:      logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		posts:       make(map[string][]*post),
		windowStart: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /r/{subreddit}/new.json", s.handleNew)
	return mux
}

func (s *server) handleNew(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("subreddit")

	limit := 25
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 100 {
		limit = n
	}

	s.mu.Lock()
	remaining, reset := s.spend()
	if remaining < 0 {
		s.mu.Unlock()
		writeRateHeaders(w, 0, reset)
		http.Error(w, `{"message": "Too Many Requests", "error": 429}`, http.StatusTooManyRequests)
		return
	}
	posts := s.advance(name)
	var l listing
	l.Kind = "Listing"
	for i, p := range posts {
		if i == limit {
			break
		}
		cp := *p
		l.Data.Children = append(l.Data.Children, child{Kind: "t3", Data: &cp})
	}
	s.mu.Unlock()

	writeRateHeaders(w, remaining, reset)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(l); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

// spend charges one request to the current window. It must be called with
// s.mu held and returns a negative remaining count once the window is spent.
func (s *server) spend() (remaining int, reset time.Duration) {
	now := time.Now()
	if now.Sub(s.windowStart) >= windowLength {
		s.windowStart = now
		s.used = 0
	}
	s.used++
	return windowRequests - s.used, s.windowStart.Add(windowLength).Sub(now)
}

// advance drifts scores and occasionally adds a post, returning the
// subreddit's posts newest first. It must be called with s.mu held.
func (s *server) advance(name string) []*post {
	posts, ok := s.posts[name]
	if !ok {
		for i := 0; i < initialPosts; i++ {
			posts = append(posts, s.newPost(name))
		}
	} else if s.rng.Intn(3) == 0 {
		p := s.newPost(name)
		posts = append(posts, p)
		s.logger.Info("new post", "subreddit", name, "post_id", p.ID)
	}

	for _, p := range posts {
		p.Score += s.rng.Intn(7) - 2
	}

	sort.Slice(posts, func(i, j int) bool { return posts[i].CreatedUTC > posts[j].CreatedUTC })
	s.posts[name] = posts
	return posts
}

func (s *server) newPost(name string) *post {
	s.nextID++
	id := strconv.FormatInt(int64(s.nextID), 36)
	return &post{
		ID:         id,
		Subreddit:  name,
		Title:      fmt.Sprintf("Post %s in r/%s", id, name),
		Author:     authors[s.rng.Intn(len(authors))],
		Score:      1,
		Permalink:  fmt.Sprintf("/r/%s/comments/%s/", name, id),
		CreatedUTC: float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

func writeRateHeaders(w http.ResponseWriter, remaining int, reset time.Duration) {
	w.Header().Set("X-Ratelimit-Remaining", strconv.Itoa(max(remaining, 0))+".0")
	w.Header().Set("X-Ratelimit-Reset", strconv.Itoa(int(reset.Seconds())))
	w.Header().Set("X-Ratelimit-Used", strconv.Itoa(windowRequests-max(remaining, 0)))
}
