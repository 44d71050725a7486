package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
)

// ErrCacheMiss is returned by TTLCache.Get for absent or expired keys
var ErrCacheMiss = errors.New("cache miss")

// Clock supplies the cache's notion of now in unix seconds
type Clock interface {
	Now() uint32
}

// TTLCache is a bounded in-process JSON cache. Expiry is checked lazily on
// read; full segments evict their oldest entries.
type TTLCache struct {
	cache *freecache.Cache
	ttl   time.Duration
}

// NewTTLCache creates a cache of sizeMB megabytes. A nil clock uses wall time.
func NewTTLCache(sizeMB int, ttl time.Duration, clock Clock) *TTLCache {
	if sizeMB <= 0 {
		sizeMB = 1
	}
	size := sizeMB * 1024 * 1024

	var cache *freecache.Cache
	if clock != nil {
		cache = freecache.NewCacheCustomTimer(size, clock)
	} else {
		cache = freecache.NewCache(size)
	}
	return &TTLCache{cache: cache, ttl: ttl}
}

// Get decodes the value stored at key into dest
func (c *TTLCache) Get(key string, dest interface{}) error {
	data, err := c.cache.Get([]byte(key))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return ErrCacheMiss
		}
		return fmt.Errorf("cache get failed: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// Set stores value under key for the configured TTL
func (c *TTLCache) Set(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	seconds := int(c.ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	if err := c.cache.Set([]byte(key), data, seconds); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Del removes key
func (c *TTLCache) Del(key string) {
	c.cache.Del([]byte(key))
}

// EntryCount returns the number of live entries
func (c *TTLCache) EntryCount() int64 {
	return c.cache.EntryCount()
}
