// Package cache keeps short-lived copies of expensive upstream responses.
package cache

import (
	"context"
	"sync"
	"time"
)

// Observer counts cache hits and misses.
type Observer interface {
	CacheHit()
	CacheMiss()
}

// Store is a byte-oriented TTL cache shared by the memory and Redis backends.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

type entry[T any] struct {
	val T
	exp time.Time
}

// Cache is an in-process TTL map. Expired entries are dropped lazily.
type Cache[T any] struct {
	mu  sync.RWMutex
	m   map[string]entry[T]
	ttl time.Duration
	obs Observer
	now func() time.Time
}

// New returns an empty cache whose entries live for ttl.
func New[T any](ttl time.Duration, obs Observer) *Cache[T] {
	return &Cache[T]{m: make(map[string]entry[T]), ttl: ttl, obs: obs, now: time.Now}
}

func (c *Cache[T]) Get(key string) (T, bool) {
	var zero T
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.exp) {
		if ok {
			c.mu.Lock()
			if cur, still := c.m[key]; still && c.now().After(cur.exp) {
				delete(c.m, key)
			}
			c.mu.Unlock()
		}
		if c.obs != nil {
			c.obs.CacheMiss()
		}
		return zero, false
	}
	if c.obs != nil {
		c.obs.CacheHit()
	}
	return e.val, true
}

func (c *Cache[T]) Set(key string, v T) {
	c.mu.Lock()
	c.m[key] = entry[T]{val: v, exp: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Memory adapts Cache to the Store interface.
type Memory struct {
	c *Cache[[]byte]
}

// NewMemory returns an in-process Store.
func NewMemory(ttl time.Duration, obs Observer) *Memory {
	return &Memory{c: New[[]byte](ttl, obs)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.c.Set(key, append([]byte(nil), value...))
	return nil
}

func (m *Memory) Close() error { return nil }
