package chart

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheTTL  = 10 * time.Minute
	defaultCacheSize = 64
)

// Cache keeps recently rendered charts in memory. Keys carry the latest
// state and projection dates, so a recompute misses and renders fresh
// rather than waiting out the TTL.
type Cache struct {
	lru *expirable.LRU[string, []byte]
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{lru: expirable.NewLRU[string, []byte](defaultCacheSize, nil, ttl)}
}

func (c *Cache) Get(key string) ([]byte, bool) {
	return c.lru.Get(key)
}

func (c *Cache) Set(key string, data []byte) {
	c.lru.Add(key, data)
}
