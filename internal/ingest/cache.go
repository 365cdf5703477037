package ingest

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Cache defaults.
const (
	DefaultCacheTTL         = time.Hour
	DefaultCacheMaxEntries  = 100
	DefaultCacheMaxChannels = 200_000
)

// Cache is a process-wide LRU cache of parsed playlists, keyed by a hash of
// the source URL. Entries above the channel ceiling are never stored; that
// guard bounds worst-case memory.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*list.Element
	order       *list.List
	ttl         time.Duration
	maxEntries  int
	maxChannels int
	now         func() time.Time
}

type cacheEntry struct {
	key      string
	channels []Channel
	storedAt time.Time
}

// NewCache creates a cache with the given TTL, entry cap, and per-playlist
// channel ceiling. Zero values fall back to the defaults.
func NewCache(ttl time.Duration, maxEntries, maxChannels int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	if maxChannels <= 0 {
		maxChannels = DefaultCacheMaxChannels
	}
	return &Cache{
		entries:     make(map[string]*list.Element),
		order:       list.New(),
		ttl:         ttl,
		maxEntries:  maxEntries,
		maxChannels: maxChannels,
		now:         time.Now,
	}
}

// CacheKey derives the opaque cache key for a playlist URL.
func CacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// MaxChannels returns the per-entry channel ceiling. Callers collecting a
// list for Put can stop accumulating once past it.
func (c *Cache) MaxChannels() int {
	return c.maxChannels
}

// Get returns the cached channel list for a URL, or nil on miss or expiry.
func (c *Cache) Get(url string) []Channel {
	key := CacheKey(url)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil
	}
	c.order.MoveToFront(elem)
	return entry.channels
}

// Put stores a parsed channel list. Lists over the channel ceiling are
// dropped; the oldest entry is evicted when the cache is full. Reports
// whether the list was stored.
func (c *Cache) Put(url string, channels []Channel) bool {
	if len(channels) > c.maxChannels {
		return false
	}
	key := CacheKey(url)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).channels = channels
		elem.Value.(*cacheEntry).storedAt = c.now()
		c.order.MoveToFront(elem)
		return true
	}

	for c.order.Len() >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{
		key:      key,
		channels: channels,
		storedAt: c.now(),
	})
	return true
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}
