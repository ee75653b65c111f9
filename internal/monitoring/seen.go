package monitoring

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// seenCache remembers recently recorded (keyword, URL) pairs so repeated
// items skip the store round trip. The mention store stays the dedup authority.
type seenCache struct {
	lru *expirable.LRU[string, struct{}]
}

func newSeenCache(size int, ttl time.Duration) *seenCache {
	if size <= 0 {
		return nil
	}
	return &seenCache{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func seenKey(keywordID, url string) string {
	return keywordID + "\x00" + url
}

func (c *seenCache) Contains(keywordID, url string) bool {
	if c == nil {
		return false
	}
	return c.lru.Contains(seenKey(keywordID, url))
}

func (c *seenCache) Add(keywordID, url string) {
	if c == nil {
		return
	}
	c.lru.Add(seenKey(keywordID, url), struct{}{})
}

func (c *seenCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
