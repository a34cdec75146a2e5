// Package stats holds per-item running statistics for one tracked source.
//
// Each entry is created the first time an item identifier is observed and is
// never removed for the lifetime of the store. Every later observation
// overwrites the entry's score and author: last write wins, nothing is
// aggregated across observations.
package stats

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Snapshot is a point-in-time copy of one entry.
type Snapshot struct {
	ID     string `json:"id"`
	Score  int    `json:"score"`
	Author string `json:"author"`
}

// entry is the mutable record behind a Snapshot. Its own mutex serialises
// updates to one identifier without blocking updates to others.
type entry struct {
	mu     sync.Mutex
	id     string
	score  int
	author string
}

func (e *entry) snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{ID: e.id, Score: e.score, Author: e.author}
}

// Store is a concurrency-safe map from item identifier to stats entry.
//
// The zero value is not usable; create stores with [NewStore].
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty [Store].
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Record stores an observation of item id and returns the updated entry.
//
// rawScore is parsed with [ParseScore]; an unparsable score is recorded as
// zero rather than rejected.
func (s *Store) Record(id, rawScore, author string) Snapshot {
	e := s.getOrCreate(id)

	e.mu.Lock()
	e.score = ParseScore(rawScore)
	e.author = author
	snap := Snapshot{ID: e.id, Score: e.score, Author: e.author}
	e.mu.Unlock()

	return snap
}

func (s *Store) getOrCreate(id string) *entry {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// another writer may have won the race between the two locks
	if e, ok := s.entries[id]; ok {
		return e
	}
	e = &entry{id: id}
	s.entries[id] = e
	return e
}

// Get returns the entry for id, or false if it was never observed.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// All returns every entry sorted by identifier.
func (s *Store) All() []Snapshot {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of distinct identifiers observed.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ParseScore converts raw score text to an integer. Anything that is not a
// base-10 integer (after trimming whitespace) yields zero.
func ParseScore(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
