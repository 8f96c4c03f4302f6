package grants

import (
	"context"
	"sync"
	"time"
)

// timedEntry wraps a grant with its eviction deadline.
type timedEntry struct {
	grant   *Grant
	evictAt time.Time
}

// pollEntry is the last poll time of a key, kept outside the grant record so
// poll pacing never rewrites the record.
type pollEntry struct {
	at      time.Time
	evictAt time.Time
}

// MemoryStore is a thread-safe in-memory Store. Suitable for single-process
// deployments, development and testing; multi-node deployments should use
// RedisStore instead.
//
// Consume removes the entry and leaves a tombstone under the same key, so a
// losing concurrent consumer is answered with ErrAlreadyConsumed rather than
// ErrNotFound. Tombstones are swept together with expired entries.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*timedEntry
	tombstone map[string]time.Time // consumed key -> tombstone eviction time
	polls     map[string]pollEntry

	cleanupInterval time.Duration
	nowFunc         func() time.Time
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets how often the background sweeper runs.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = d
	}
}

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.nowFunc = now
	}
}

// NewMemoryStore creates an in-memory grant store and starts its TTL sweeper.
// Call Close to stop the sweeper.
func NewMemoryStore(options ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:         make(map[string]*timedEntry),
		tombstone:       make(map[string]time.Time),
		polls:           make(map[string]pollEntry),
		cleanupInterval: time.Minute,
		nowFunc:         time.Now,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Put(_ context.Context, key string, grant *Grant, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tombstone, key)
	// The store owns its records outright; it never shares grant memory
	// with callers.
	s.entries[key] = &timedEntry{
		grant:   grant.Clone(),
		evictAt: s.nowFunc().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.nowFunc().After(entry.evictAt) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}
	return entry.grant.Clone(), nil
}

func (s *MemoryStore) Consume(_ context.Context, key string) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	entry, ok := s.entries[key]
	if !ok {
		if evictAt, consumed := s.tombstone[key]; consumed && now.Before(evictAt) {
			return nil, ErrAlreadyConsumed
		}
		return nil, ErrNotFound
	}
	delete(s.entries, key)
	delete(s.polls, key)
	if now.After(entry.evictAt) {
		return nil, ErrNotFound
	}
	s.tombstone[key] = entry.evictAt
	return entry.grant, nil
}

func (s *MemoryStore) TouchPoll(_ context.Context, key string, at time.Time, ttl time.Duration) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	var prev time.Time
	if entry, ok := s.polls[key]; ok && !now.After(entry.evictAt) {
		prev = entry.at
	}
	s.polls[key] = pollEntry{at: at, evictAt: now.Add(ttl)}
	return prev, nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	delete(s.polls, key)
	return nil
}

// Close stops the background sweeper and waits for it to finish.
func (s *MemoryStore) Close() {
	close(s.stopCleanup)
	<-s.cleanupDone
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	for key, entry := range s.entries {
		if now.After(entry.evictAt) {
			delete(s.entries, key)
		}
	}
	for key, evictAt := range s.tombstone {
		if now.After(evictAt) {
			delete(s.tombstone, key)
		}
	}
	for key, entry := range s.polls {
		if now.After(entry.evictAt) {
			delete(s.polls, key)
		}
	}
}
