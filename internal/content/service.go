package content

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	defaultMaxCacheBytes = 64 << 20
	defaultTTL           = 15 * time.Minute
)

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	Entries       int
	SizeBytes     int64
	MaxSizeBytes  int64
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	TTLExpiries   uint64
	BackendWrites uint64
}

type entry struct {
	id         string
	data       []byte
	accessedAt time.Time
	elem       *list.Element
}

// Service is the content storage service: every blob is written through to
// the backend, and a bounded cache absorbs repeat reads. Cache state is
// guarded by a read-write mutex that is never held across a backend call.
type Service struct {
	backend BlobStore
	maxSize int64
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	lru     *list.List // front is most recently used
	size    int64

	hits, misses, evictions, expiries, writes uint64
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMaxCacheBytes bounds the cache size. Blobs larger than the bound are
// stored but never cached.
func WithMaxCacheBytes(n int64) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithTTL sets how long a cache entry may sit unaccessed before it
// expires. Zero or negative disables expiry.
func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.ttl = ttl }
}

// WithNow overrides the cache clock. Test hook.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService returns a service over the given backend.
func NewService(backend BlobStore, opts ...ServiceOption) *Service {
	s := &Service{
		backend: backend,
		maxSize: defaultMaxCacheBytes,
		ttl:     defaultTTL,
		now:     time.Now,
		entries: make(map[string]*entry),
		lru:     list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store persists a blob and returns its content id. Content already in the
// cache short-circuits without touching the backend; content already in the
// backend is not rewritten.
func (s *Service) Store(ctx context.Context, data []byte) (string, error) {
	id := ID(data)

	if _, ok := s.cached(id); ok {
		return id, nil
	}

	exists, err := s.backend.Exists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", id, err)
	}
	if !exists {
		if err := s.backend.Put(ctx, id, data); err != nil {
			return "", fmt.Errorf("store %s: %w", id, err)
		}
		s.mu.Lock()
		s.writes++
		s.mu.Unlock()
	}
	s.admit(id, data)
	return id, nil
}

// StoreBatch persists blobs in order and returns their content ids. It
// stops at the first failure, returning the ids stored so far.
func (s *Service) StoreBatch(ctx context.Context, blobs [][]byte) ([]string, error) {
	ids := make([]string, 0, len(blobs))
	for i, data := range blobs {
		id, err := s.Store(ctx, data)
		if err != nil {
			return ids, fmt.Errorf("batch index %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Get returns a blob's bytes, from cache when possible. A backend hit
// backfills the cache.
func (s *Service) Get(ctx context.Context, id string) ([]byte, error) {
	if data, ok := s.cached(id); ok {
		s.mu.Lock()
		s.hits++
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()

	data, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	s.admit(id, data)
	return data, nil
}

// GetBatch resolves ids in order. It stops at the first failure, returning
// the blobs fetched so far.
func (s *Service) GetBatch(ctx context.Context, ids []string) ([][]byte, error) {
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		data, err := s.Get(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, data)
	}
	return out, nil
}

// Exists reports whether content is stored, checking the cache first.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	if _, ok := s.cached(id); ok {
		return true, nil
	}
	return s.backend.Exists(ctx, id)
}

// Delete removes content from both the cache and the backend.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.removeLocked(id)
	s.mu.Unlock()
	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// SweepExpired drops cache entries idle longer than the TTL and returns
// how many were dropped. The backend is untouched.
func (s *Service) SweepExpired() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped int
	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if e.accessedAt.Before(cutoff) {
			s.removeLocked(e.id)
			s.expiries++
			dropped++
		}
		elem = prev
	}
	return dropped
}

// StartSweeper runs SweepExpired on the given interval until ctx is done.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepExpired()
			}
		}
	}()
}

// Stats snapshots the cache counters.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Entries:       len(s.entries),
		SizeBytes:     s.size,
		MaxSizeBytes:  s.maxSize,
		Hits:          s.hits,
		Misses:        s.misses,
		Evictions:     s.evictions,
		TTLExpiries:   s.expiries,
		BackendWrites: s.writes,
	}
}

// cached returns a copy of a cached blob and refreshes its recency.
func (s *Service) cached(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && e.accessedAt.Before(s.now().Add(-s.ttl)) {
		s.removeLocked(id)
		s.expiries++
		return nil, false
	}
	e.accessedAt = s.now()
	s.lru.MoveToFront(e.elem)
	cp := make([]byte, len(e.data))
	copy(cp, e.data)
	return cp, true
}

// admit inserts a blob into the cache, evicting least-recently-used entries
// until it fits. Blobs larger than the whole cache are skipped.
func (s *Service) admit(id string, data []byte) {
	if int64(len(data)) > s.maxSize {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return
	}
	for s.size+int64(len(data)) > s.maxSize {
		back := s.lru.Back()
		if back == nil {
			break
		}
		s.removeLocked(back.Value.(*entry).id)
		s.evictions++
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	e := &entry{id: id, data: cp, accessedAt: s.now()}
	e.elem = s.lru.PushFront(e)
	s.entries[id] = e
	s.size += int64(len(cp))
}

// removeLocked drops an entry from the cache. Caller holds s.mu.
func (s *Service) removeLocked(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	s.lru.Remove(e.elem)
	delete(s.entries, id)
	s.size -= int64(len(e.data))
}
