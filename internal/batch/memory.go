package batch

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps batches in a map guarded by a single mutex. The lock is
// only held for the map operation itself.
type MemoryStore struct {
	mu        sync.Mutex
	batches   map[string]*Result
	retention time.Duration
	now       func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(retention time.Duration, opts ...MemoryOption) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &MemoryStore{
		batches:   make(map[string]*Result),
		retention: retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Put(_ context.Context, res *Result) (string, error) {
	stored := clone(res)
	now := s.now()
	stored.StoredAt = now
	stored.Status = StatusCompleted

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	if stored.ID == "" {
		for {
			stored.ID = NewID()
			if _, taken := s.batches[stored.ID]; !taken {
				break
			}
		}
	}
	s.batches[stored.ID] = stored
	res.ID, res.StoredAt, res.Status = stored.ID, stored.StoredAt, stored.Status
	return stored.ID, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Result, error) {
	now := s.now()
	s.mu.Lock()
	res, ok := s.batches[id]
	if ok && expired(res.StoredAt, now, s.retention) {
		delete(s.batches, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return clone(res), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.batches[id]
	if !ok {
		return false, nil
	}
	delete(s.batches, id)
	// an entry past its retention window was already gone as far as callers know
	return !expired(res.StoredAt, now, s.retention), nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now), nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, res := range s.batches {
		if !expired(res.StoredAt, now, s.retention) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for id, res := range s.batches {
		if expired(res.StoredAt, now, s.retention) {
			delete(s.batches, id)
			removed++
		}
	}
	return removed
}
