// Package reddit fetches the newest posts of a subreddit from Reddit's JSON
// listing API and adapts them to [source.Item].
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jpalmerr/subtrack/internal/source"
)

const (
	// DefaultBaseURL serves anonymous requests.
	DefaultBaseURL = "https://www.reddit.com"

	// OAuthBaseURL must be used when an access token is configured.
	OAuthBaseURL = "https://oauth.reddit.com"

	DefaultUserAgent   = "subtrack/1.0"
	DefaultMinInterval = 2 * time.Second
	DefaultTimeout     = 30 * time.Second

	// MaxLimit is the largest page Reddit serves for a listing.
	MaxLimit = 100
)

const maxResponseBodySize = 8 << 20 // 8MB

// connection pooling limits; every tracker shares one client
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// rate-limit headers copied into source.Batch, lower-cased
var rateHeaders = []string{
	"X-Ratelimit-Remaining",
	"X-Ratelimit-Reset",
	"X-Ratelimit-Used",
}

// Client is a [source.Fetcher] backed by Reddit's listing API.
//
// Calls are spaced at least the minimum interval apart across all subreddits,
// on top of whatever quota gate the caller applies. Timeouts are applied per request.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	baseURL     string
	linkBaseURL string
	userAgent   string
	accessToken string
	timeout     time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL points the client at a different API host, such as a mock
// server in tests. Trailing slashes are removed.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithUserAgent sets the User-Agent header Reddit requires on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithAccessToken authenticates requests with an OAuth bearer token. Unless
// a base URL is set explicitly, requests go to [OAuthBaseURL].
func WithAccessToken(token string) Option {
	return func(c *Client) {
		c.accessToken = token
	}
}

// WithMinInterval sets the minimum spacing between requests. Zero or
// negative disables spacing.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the pooled HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a [Client].
//
// The default client is anonymous, talks to [DefaultBaseURL] and spaces
// requests [DefaultMinInterval] apart.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		limiter:     rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
		linkBaseURL: DefaultBaseURL,
		userAgent:   DefaultUserAgent,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
		if c.accessToken != "" {
			c.baseURL = OAuthBaseURL
		}
	}
	return c
}

// FetchLatest returns up to limit of the newest posts in subreddit name.
//
// A limit above [MaxLimit] is clamped and a non-positive limit means
// [source.DefaultBatchSize]. Failures are returned as
// *source.FetchError; a non-200 response carries its status code.
func (c *Client) FetchLatest(ctx context.Context, name string, limit int) (source.Batch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return source.Batch{}, &source.FetchError{Err: errors.New("subreddit name is required")}
	}
	limit = clampLimit(limit)

	if err := c.limiter.Wait(ctx); err != nil {
		return source.Batch{}, &source.FetchError{Source: name, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.listingURL(name, limit), nil)
	if err != nil {
		return source.Batch{}, &source.FetchError{Source: name, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return source.Batch{}, &source.FetchError{Source: name, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	// read body with size limit
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return source.Batch{}, &source.FetchError{
			Source:     name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to read response body: %w", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return source.Batch{}, &source.FetchError{
			Source:     name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", snippet(body)),
		}
	}

	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return source.Batch{}, &source.FetchError{
			Source:     name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode listing: %w", err),
		}
	}

	return source.Batch{
		Items:       c.itemsFromListing(l, name),
		RateHeaders: collectRateHeaders(resp.Header),
	}, nil
}

// Close closes all idle connections in the client's connection pool. Safe to
// call multiple times; the client remains usable afterwards.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}

func (c *Client) listingURL(name string, limit int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("raw_json", "1")
	return fmt.Sprintf("%s/r/%s/new.json?%s", c.baseURL, url.PathEscape(name), q.Encode())
}

func (c *Client) itemsFromListing(l listing, name string) []source.Item {
	items := make([]source.Item, 0, len(l.Data.Children))
	for _, ch := range l.Data.Children {
		p := ch.Data
		if p.ID == "" {
			continue
		}

		permalink := p.Permalink
		if strings.HasPrefix(permalink, "/") {
			permalink = c.linkBaseURL + permalink
		}

		items = append(items, source.Item{
			ID:        p.ID,
			Source:    name,
			Author:    p.Author,
			Score:     strconv.Itoa(p.Score),
			Title:     p.Title,
			CreatedAt: time.Unix(int64(p.CreatedUTC), 0).UTC(),
			Permalink: permalink,
			Body:      p.Selftext,
		})
	}
	return items
}

func collectRateHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(rateHeaders))
	for _, key := range rateHeaders {
		if v := h.Get(key); v != "" {
			out[strings.ToLower(key)] = v
		}
	}
	return out
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return source.DefaultBatchSize
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func snippet(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}

type listing struct {
	Data struct {
		Children []child `json:"children"`
	} `json:"data"`
}

type child struct {
	Kind string `json:"kind"`
	Data post   `json:"data"`
}

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
