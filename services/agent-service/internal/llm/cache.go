package llm

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	DefaultCacheTTL = time.Hour
	// DefaultCacheEntries caps the cache; expired entries go first, then the oldest.
	DefaultCacheEntries = 1000
)

type cacheEntry struct {
	resp   ChatResponse
	stored time.Time
}

// Cache holds chat responses keyed by the JSON encoding of (messages, options).
type Cache struct {
	ttl time.Duration
	max int
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{ttl: ttl, max: DefaultCacheEntries, now: time.Now, entries: make(map[string]cacheEntry)}
}

// Key is deterministic: struct fields marshal in declaration order.
func (c *Cache) Key(messages []Message, opts ChatOptions) string {
	raw, _ := json.Marshal(struct {
		Messages []Message  `json:"messages"`
		Options  ChatOptions `json:"options"`
	}{messages, opts})
	return string(raw)
}

// Get returns a live entry. Expired entries are dropped on read.
func (c *Cache) Get(key string) (ChatResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return ChatResponse{}, false
	}
	if c.now().Sub(e.stored) > c.ttl {
		delete(c.entries, key)
		return ChatResponse{}, false
	}
	return e.resp, true
}

func (c *Cache) Set(key string, resp ChatResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.max {
		c.evict()
	}
	c.entries[key] = cacheEntry{resp: resp, stored: c.now()}
}

// evict drops expired entries, or the oldest one when none has expired.
func (c *Cache) evict() {
	now := c.now()
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if now.Sub(e.stored) > c.ttl {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.stored.Before(oldest) {
			oldestKey, oldest = k, e.stored
		}
	}
	if len(c.entries) >= c.max && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
