package cache

import (
	"strings"
	"time"
)

const defaultResponseTTL = 5 * time.Minute

// ResponseCache holds raw remote API results keyed by request.
type ResponseCache struct {
	entries Cache[string, []byte]
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = defaultResponseTTL
	}
	return &ResponseCache{entries: NewTTLCache[string, []byte](defaultSize, ttl)}
}

func (c *ResponseCache) Get(parts ...string) ([]byte, bool) {
	return c.entries.Get(Key(parts...))
}

func (c *ResponseCache) Set(value []byte, parts ...string) {
	if value == nil {
		return
	}
	c.entries.Set(Key(parts...), value)
}

func (c *ResponseCache) Clear() {
	c.entries.Purge()
}

func (c *ResponseCache) Len() int {
	return c.entries.Len()
}

// Key joins the trimmed, lower-cased non-empty parts with "|".
func Key(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
