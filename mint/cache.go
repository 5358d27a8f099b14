package mint

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	responseCacheSize = 500
	responseCacheTTL  = time.Minute * 30
)

type cacheEntry struct {
	response []byte
	storedAt time.Time
}

// Cache stores successful responses to payment operations. A client
// that lost the response to a request it already paid for can replay
// the request and get the original response back instead of an error
// for an already settled quote.
type Cache struct {
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
}

func NewCache() *Cache {
	// New only fails on a non-positive size
	entries, _ := lru.New[string, cacheEntry](responseCacheSize)
	return &Cache{
		entries: entries,
		ttl:     responseCacheTTL,
	}
}

func (c *Cache) Get(key string) ([]byte, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if time.Since(entry.storedAt) > c.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	return entry.response, true
}

func (c *Cache) Put(key string, response []byte) {
	c.entries.Add(key, cacheEntry{response: response, storedAt: time.Now()})
}

// cacheKey derives the lookup key for a request from its path and raw
// body. Identical replayed requests map to the same key.
func cacheKey(path string, body []byte) string {
	hash := sha256.New()
	hash.Write([]byte(path))
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}
