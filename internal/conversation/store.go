// Package conversation keeps the per-user rolling conversation buffer.
package conversation

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/stupiduntilnot/chatrelay/internal/model"
)

// Entry is one immutable turn of a conversation.
type Entry struct {
	Role    model.Role
	Content string
}

// Options bounds the store. Zero values mean unbounded.
type Options struct {
	// MaxUsers caps the number of tracked users; the least recently
	// written history is evicted first.
	MaxUsers int
	// IdleTTL expires a history this long after its last append.
	IdleTTL time.Duration
	// OnEvict is called when a history leaves the store through capacity
	// or TTL eviction. Clear does not trigger it. It may run on the cache's
	// cleanup goroutine and must not call back into the Store.
	OnEvict func(userID int64, entries int)
}

type history struct {
	entries []Entry
	// size and cleared are read by the eviction callback, which does not
	// hold Store.mu.
	size    atomic.Int64
	cleared atomic.Bool
}

// Store maps user ids to their conversation history. A user id that is not
// present behaves as an empty history. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	cache   *expirable.LRU[int64, *history]
	onEvict func(userID int64, entries int)
}

// NewStore creates a store bounded by opts.
func NewStore(opts Options) *Store {
	s := &Store{onEvict: opts.OnEvict}
	size := opts.MaxUsers
	if size < 0 {
		size = 0
	}
	s.cache = expirable.NewLRU[int64, *history](size, s.evicted, opts.IdleTTL)
	return s
}

func (s *Store) evicted(userID int64, h *history) {
	if s.onEvict == nil || h.cleared.Load() {
		return
	}
	s.onEvict(userID, int(h.size.Load()))
}

// AddMessage appends an entry to the user's history, creating it if absent.
// Role and content are stored as given.
func (s *Store) AddMessage(userID int64, role model.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.cache.Get(userID)
	if !ok {
		h = &history{}
	}
	h.entries = append(h.entries, Entry{Role: role, Content: content})
	h.size.Store(int64(len(h.entries)))
	// Re-adding refreshes both recency and the idle deadline.
	s.cache.Add(userID, h)
}

// History returns a copy of the user's entries in insertion order. Unknown
// users get an empty slice.
func (s *Store) History(userID int64) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.cache.Peek(userID)
	if !ok {
		return []Entry{}
	}
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of entries stored for the user.
func (s *Store) Len(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.cache.Peek(userID)
	if !ok {
		return 0
	}
	return len(h.entries)
}

// HasHistory reports whether the user has at least one entry.
func (s *Store) HasHistory(userID int64) bool {
	return s.Len(userID) > 0
}

// Clear drops the user's history. Clearing an unknown user is a no-op.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.cache.Peek(userID); ok {
		h.cleared.Store(true)
	}
	s.cache.Remove(userID)
}

// Users returns the number of tracked histories. Expired histories count
// until the cache's cleanup pass removes them.
func (s *Store) Users() int {
	return s.cache.Len()
}
