// Package dedup skips redundant work for operations seen moments ago.
// It is an optimization layered on idempotent operations: an empty or disabled cache
// must never change the outcome of a call.
package dedup

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache remembers recently completed operation keys for a bounded time.
type Cache struct {
	lru *expirable.LRU[string, struct{}]
}

// New builds a cache holding at most size keys for ttl each. size <= 0 disables it.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		return &Cache{}
	}
	return &Cache{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	if c == nil || c.lru == nil {
		return false
	}
	_, ok := c.lru.Get(key)
	return ok
}

// Mark records key as completed.
func (c *Cache) Mark(key string) {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Add(key, struct{}{})
}

// Purge drops every key.
func (c *Cache) Purge() {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Purge()
}

// Key builds a cache key from an operation name and its arguments.
func Key(op string, ids ...int64) string {
	key := op
	for _, id := range ids {
		key += fmt.Sprintf(":%d", id)
	}
	return key
}
