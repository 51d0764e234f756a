package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMiss is returned by a Store when the key is absent or expired
var ErrMiss = errors.New("cache: miss")

// Store is a byte-oriented cache shared by the in-memory and Redis backends
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Options configures an in-memory Cache
type Options struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	MaxItems        int
}

// Item represents a cached item with expiration
type Item struct {
	Value      interface{}
	Expiration int64
}

// Expired checks if the cache item has expired
func (item Item) Expired() bool {
	if item.Expiration == 0 {
		return false
	}
	return time.Now().UnixNano() > item.Expiration
}

// Cache is a thread-safe in-memory cache with expiration
type Cache struct {
	items             map[string]Item
	mu                sync.RWMutex
	defaultExpiration time.Duration
	cleanupInterval   time.Duration
	maxItems          int
	onEvicted         func(string, interface{})
	stop              chan struct{}
	stopOnce          sync.Once
}

// NewCache creates a new cache with the given default expiration and cleanup interval
func NewCache(opts Options) *Cache {
	cache := &Cache{
		items:             make(map[string]Item),
		defaultExpiration: opts.TTL,
		cleanupInterval:   opts.CleanupInterval,
		maxItems:          opts.MaxItems,
		stop:              make(chan struct{}),
	}

	// Start cleanup goroutine if cleanup interval > 0
	if opts.CleanupInterval > 0 {
		go cache.startCleanupTimer()
	}

	return cache
}

// Set adds an item to the cache with the default expiration
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithExpiration(key, value, c.defaultExpiration)
}

// SetWithExpiration adds an item to the cache with a specific expiration time
func (c *Cache) SetWithExpiration(key string, value interface{}, d time.Duration) {
	var exp int64
	if d > 0 {
		exp = time.Now().Add(d).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if we need to evict an item first
	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictOldest()
	}

	c.items[key] = Item{
		Value:      value,
		Expiration: exp,
	}
}

// Get retrieves an item from the cache
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found {
		return nil, false
	}

	// Check if the item has expired
	if item.Expired() {
		return nil, false
	}

	return item.Value, true
}

// Delete removes an item from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[key]; found && c.onEvicted != nil {
		c.onEvicted(key, item.Value)
	}

	delete(c.items, key)
}

// Flush removes all items from the cache
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Call onEvicted for each item if it exists
	if c.onEvicted != nil {
		for k, v := range c.items {
			c.onEvicted(k, v.Value)
		}
	}

	c.items = make(map[string]Item)
}

// Bytes adapts the cache to the Store interface
func (c *Cache) Bytes() Store {
	return byteStore{c: c}
}

type byteStore struct {
	c *Cache
}

func (b byteStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := b.c.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, ErrMiss
	}
	return data, nil
}

func (b byteStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = b.c.defaultExpiration
	}
	b.c.SetWithExpiration(key, value, ttl)
	return nil
}

func (b byteStore) Delete(_ context.Context, key string) error {
	b.c.Delete(key)
	return nil
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// SetOnEvicted sets the callback to be called when an item is evicted
func (c *Cache) SetOnEvicted(f func(string, interface{})) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onEvicted = f
}

// startCleanupTimer starts the cleanup ticker
func (c *Cache) startCleanupTimer() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

// Close stops the cleanup goroutine
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// deleteExpired deletes all expired items from the cache
func (c *Cache) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	for k, v := range c.items {
		if v.Expiration > 0 && now > v.Expiration {
			// Call onEvicted if it exists
			if c.onEvicted != nil {
				c.onEvicted(k, v.Value)
			}

			delete(c.items, k)
		}
	}
}

// evictOldest finds and removes the oldest item in the cache
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime int64

	// Items expiring soonest were written first under a shared TTL
	for k, v := range c.items {
		if oldestKey == "" || v.Expiration < oldestTime {
			oldestKey = k
			oldestTime = v.Expiration
		}
	}

	// If we found an item to evict and have an eviction callback, call it
	if oldestKey != "" && c.onEvicted != nil {
		c.onEvicted(oldestKey, c.items[oldestKey].Value)
	}

	// Delete the oldest item
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
