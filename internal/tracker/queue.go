package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jpalmerr/subtrack/internal/source"
)

// OverflowPolicy decides what a bounded queue does when it is full.
type OverflowPolicy string

const (
	// OverflowBlock makes producers wait for space (cancellable via context).
	OverflowBlock OverflowPolicy = "block"

	// OverflowDropOldest evicts the oldest queued item to make room.
	OverflowDropOldest OverflowPolicy = "drop-oldest"

	// OverflowDropNewest rejects the incoming item with [ErrDropped].
	OverflowDropNewest OverflowPolicy = "drop-newest"
)

// ParseOverflowPolicy converts a config string to an [OverflowPolicy].
// The empty string maps to [OverflowBlock].
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return OverflowBlock, nil
	case OverflowBlock, OverflowDropOldest, OverflowDropNewest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q (want block, drop-oldest or drop-newest)", s)
	}
}

// queue is a multi-producer/multi-consumer FIFO of items.
//
// A capacity of zero means unbounded. Consumers block in pop until an item
// arrives, the queue is closed, or their context is done. Once closed, pop
// keeps returning queued items until the queue is empty, so consumers drain
// whatever the producer left behind.
type queue struct {
	capacity int
	policy   OverflowPolicy
	onDrop   func()

	mu     sync.Mutex
	items  []source.Item
	closed bool

	// ready and space carry at most one wake-up token each; a woken waiter
	// passes the token on if more work remains.
	ready chan struct{}
	space chan struct{}
	done  chan struct{}
}

func newQueue(capacity int, policy OverflowPolicy, onDrop func()) *queue {
	if capacity < 0 {
		capacity = 0
	}
	if policy == "" {
		policy = OverflowBlock
	}
	if onDrop == nil {
		onDrop = func() {}
	}
	return &queue{
		capacity: capacity,
		policy:   policy,
		onDrop:   onDrop,
		ready:    make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// push appends item, applying the overflow policy when the queue is full.
func (q *queue) push(ctx context.Context, item source.Item) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}

		if q.capacity == 0 || len(q.items) < q.capacity {
			q.items = append(q.items, item)
			hasSpace := q.capacity == 0 || len(q.items) < q.capacity
			q.mu.Unlock()

			signal(q.ready)
			if hasSpace && q.capacity > 0 {
				signal(q.space)
			}
			return nil
		}

		switch q.policy {
		case OverflowDropNewest:
			q.mu.Unlock()
			q.onDrop()
			return ErrDropped

		case OverflowDropOldest:
			q.items[0] = source.Item{}
			q.items = append(q.items[1:], item)
			q.mu.Unlock()
			q.onDrop()
			signal(q.ready)
			return nil
		}

		q.mu.Unlock()
		select {
		case <-q.space:
		case <-q.done:
			return ErrQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pop removes the oldest item. It returns ErrQueueClosed once the queue is
// closed and empty, or ctx.Err() if ctx is done while waiting.
func (q *queue) pop(ctx context.Context) (source.Item, error) {
	for {
		q.mu.Lock()
		if n := len(q.items); n > 0 {
			item := q.items[0]
			q.items[0] = source.Item{}
			q.items = q.items[1:]
			q.mu.Unlock()

			if n > 1 {
				signal(q.ready)
			}
			signal(q.space)
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return source.Item{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return source.Item{}, ctx.Err()
		}
	}
}

// close shuts the producer side. Queued items stay available to pop.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
