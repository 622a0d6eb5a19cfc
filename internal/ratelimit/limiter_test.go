package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalUnlimited(t *testing.T) {
	l := NewLocal(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}

func TestLocalHonorsContext(t *testing.T) {
	l := NewLocal(0.001, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestDistributedDisabledWithoutRate(t *testing.T) {
	d := NewDistributed(nil, "k", 0, 1)
	assert.NoError(t, d.Wait(context.Background()))
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	var tb *TokenBucket
	_, err := tb.Take(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrBucketNotConfigured)

	tb = NewTokenBucket(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	for _, tc := range []struct {
		key   string
		rate  float64
		burst int
	}{
		{"", 1, 1},
		{"k", 0, 1},
		{"k", 1, 0},
	} {
		_, err := tb.Take(context.Background(), tc.key, tc.rate, tc.burst)
		assert.ErrorIs(t, err, ErrInvalidBucket)
	}
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, bucketTTL(0, 1))
	assert.Equal(t, 4*time.Second, bucketTTL(5, 10))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, 20*time.Second, bucketTTL(0.5, 5))
}
