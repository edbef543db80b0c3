package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryOption configures a Memory cache.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	defaultTTL time.Duration
	sweepEvery time.Duration
	maxEntries int
	now        func() time.Time
}

// WithDefaultTTL sets the TTL used when Set gets zero. Default one hour.
func WithDefaultTTL(d time.Duration) MemoryOption {
	return func(c *memoryConfig) { c.defaultTTL = d }
}

// WithCleanupInterval sets how often expired entries are swept.
// Zero disables the background sweep. Default one minute.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(c *memoryConfig) { c.sweepEvery = d }
}

// WithMaxEntries bounds the cache; the least recently used entry is evicted
// first. Zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(c *memoryConfig) { c.maxEntries = n }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) { c.now = now }
}

type slot[V any] struct {
	key     string
	value   V
	expires time.Time // zero: never
}

// Memory is a process-local LRU cache with per-entry expiry.
type Memory[V any] struct {
	mu     sync.Mutex
	cfg    memoryConfig
	index  map[string]*list.Element
	lru    *list.List // front is most recently used
	stop   chan struct{}
	closed bool
}

// NewMemory creates a Memory cache and starts its sweeper if enabled.
// Close stops the sweeper.
func NewMemory[V any](opts ...MemoryOption) *Memory[V] {
	cfg := memoryConfig{
		defaultTTL: time.Hour,
		sweepEvery: time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Memory[V]{
		cfg:   cfg,
		index: make(map[string]*list.Element),
		lru:   list.New(),
		stop:  make(chan struct{}),
	}
	if m.cfg.sweepEvery > 0 {
		go m.sweepLoop()
	}
	return m
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	el, ok := m.index[key]
	if !ok {
		return zero, ErrNotFound
	}
	s := el.Value.(*slot[V])
	if m.expired(s, m.cfg.now()) {
		m.drop(el)
		return zero, ErrNotFound
	}
	m.lru.MoveToFront(el)
	return s.value, nil
}

func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if ttl == 0 {
		ttl = m.cfg.defaultTTL
	}
	var expires time.Time
	if ttl > 0 {
		expires = m.cfg.now().Add(ttl)
	}

	if el, ok := m.index[key]; ok {
		s := el.Value.(*slot[V])
		s.value, s.expires = value, expires
		m.lru.MoveToFront(el)
		return nil
	}

	if m.cfg.maxEntries > 0 && m.lru.Len() >= m.cfg.maxEntries {
		if oldest := m.lru.Back(); oldest != nil {
			m.drop(oldest)
		}
	}
	m.index[key] = m.lru.PushFront(&slot[V]{key: key, value: value, expires: expires})
	return nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if el, ok := m.index[key]; ok {
		m.drop(el)
	}
	return nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// Close stops the sweeper. Later writes fail with ErrClosed. Idempotent.
func (m *Memory[V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.stop)
	}
	return nil
}

func (m *Memory[V]) sweepLoop() {
	t := time.NewTicker(m.cfg.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// Sweep removes every expired entry.
func (m *Memory[V]) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.now()
	for el := m.lru.Back(); el != nil; {
		prev := el.Prev()
		if m.expired(el.Value.(*slot[V]), now) {
			m.drop(el)
		}
		el = prev
	}
}

func (m *Memory[V]) expired(s *slot[V], now time.Time) bool {
	return !s.expires.IsZero() && now.After(s.expires)
}

// drop requires m.mu.
func (m *Memory[V]) drop(el *list.Element) {
	m.lru.Remove(el)
	delete(m.index, el.Value.(*slot[V]).key)
}

var _ Cache[any] = (*Memory[any])(nil)
