package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpires(t *testing.T) {
	c := NewTTLCache[string, int](8, 20*time.Millisecond)
	c.Set("a", 1)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("a")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestResponseCache(t *testing.T) {
	c := NewResponseCache(time.Minute)
	c.Set([]byte(`["x"]`), "/projects/username/", " Alice ")
	c.Set(nil, "ignored")

	v, ok := c.Get("/projects/username/", "alice")
	require.True(t, ok)
	assert.Equal(t, `["x"]`, string(v))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	_, ok = c.Get("/projects/username/", "alice")
	assert.False(t, ok)
}

func TestResponseCacheConcurrentUse(t *testing.T) {
	c := NewResponseCache(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Set([]byte("v"), "k")
			_, _ = c.Get("k")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "a|b", Key(" A ", "", "b"))
}

func TestUnboundedCacheKeepsEveryEntry(t *testing.T) {
	c := NewUnboundedCache[int, int]()
	for i := 0; i < 5000; i++ {
		c.Set(i, i)
	}
	assert.Equal(t, 5000, c.Len())

	v, ok := c.Get(0)
	require.True(t, ok)
	assert.Equal(t, 0, v)

	c.Purge()
	assert.Zero(t, c.Len())
}
