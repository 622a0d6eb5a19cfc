package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter blocks until one request may proceed or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLocal limits requests from this process only. A non-positive rps
// disables limiting.
func NewLocal(rps float64, burst int) Limiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

// Distributed shares one token bucket between every replica using the same
// key.
type Distributed struct {
	bucket *TokenBucket
	key    string
	rps    float64
	burst  int
	// minWait bounds the polling interval when the bucket reports no delay.
	minWait time.Duration
}

func NewDistributed(bucket *TokenBucket, key string, rps float64, burst int) *Distributed {
	if burst <= 0 {
		burst = 1
	}
	return &Distributed{
		bucket:  bucket,
		key:     key,
		rps:     rps,
		burst:   burst,
		minWait: 10 * time.Millisecond,
	}
}

func (d *Distributed) Wait(ctx context.Context) error {
	if d.rps <= 0 {
		return ctx.Err()
	}
	for {
		wait, err := d.bucket.Take(ctx, d.key, d.rps, d.burst)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if wait < d.minWait {
			wait = d.minWait
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
