package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultSize = 4096

// Cache is a concurrency-safe key/value cache.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Remove(key K)
	Purge()
	Len() int
}

type ttlCache[K comparable, V any] struct {
	entries *expirable.LRU[K, V]
}

// NewTTLCache returns a cache whose entries expire ttl after they were set.
func NewTTLCache[K comparable, V any](size int, ttl time.Duration) Cache[K, V] {
	if size <= 0 {
		size = defaultSize
	}
	return &ttlCache[K, V]{entries: expirable.NewLRU[K, V](size, nil, ttl)}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) { return c.entries.Get(key) }
func (c *ttlCache[K, V]) Set(key K, value V)  { c.entries.Add(key, value) }
func (c *ttlCache[K, V]) Remove(key K)        { c.entries.Remove(key) }
func (c *ttlCache[K, V]) Purge()              { c.entries.Purge() }
func (c *ttlCache[K, V]) Len() int            { return c.entries.Len() }

// NewUnboundedCache returns a cache without a size bound or expiry; entries
// leave only through Remove or Purge.
func NewUnboundedCache[K comparable, V any]() Cache[K, V] {
	// expirable treats size 0 as unlimited and ttl 0 as never expiring
	return &ttlCache[K, V]{entries: expirable.NewLRU[K, V](0, nil, 0)}
}
