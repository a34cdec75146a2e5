package feed

import (
	"sync"
	"time"

	"github.com/jpalmerr/subtrack/internal/stats"
)

// subscriberBuffer is the channel capacity handed to each subscriber.
const subscriberBuffer = 100

// Update is one recorded observation.
type Update struct {
	Source     string         `json:"subreddit"`
	Stats      stats.Snapshot `json:"stats"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Hub is an in-memory publish/subscribe fan-out for [Update] values.
//
// Hub is safe for concurrent use. Publishing never blocks: if a subscriber's
// buffer is full, the update is dropped for that subscriber.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Update]struct{}
	closed      bool
}

// NewHub creates an empty [Hub].
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan Update]struct{}),
	}
}

// Publish sends u to every subscriber whose buffer has room.
func (h *Hub) Publish(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- u:
		default:
			// subscriber is slow, drop the update
		}
	}
}

// Subscribe registers a new subscriber.
//
// Caller must call [Hub.Unsubscribe] when done to prevent resource leaks.
// Subscribing to a closed hub returns an already-closed channel.
func (h *Hub) Subscribe() <-chan Update {
	ch := make(chan Update, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (h *Hub) Unsubscribe(ch <-chan Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for subCh := range h.subscribers {
		if subCh == ch {
			delete(h.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Close closes every subscriber channel. Later publishes are no-ops and
// later subscriptions receive a closed channel. Safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
