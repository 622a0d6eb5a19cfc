package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/allocledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const remoteBucketKey = "allocledger:ratelimit:remote"

var Module = fx.Module("rate.limit",
	fx.Provide(NewRemoteLimiter),
)

// NewRemoteLimiter paces calls to the allocation authority. With redis
// configured the budget is shared by every replica.
func NewRemoteLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Limiter {
	remote := cfg.Remote
	if cfg.Redis.Addr == "" {
		return NewLocal(remote.RequestsPerSecond, remote.Burst)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	log.Info("using shared remote rate limit",
		zap.String("addr", cfg.Redis.Addr),
		zap.Float64("rps", remote.RequestsPerSecond),
		zap.Int("burst", remote.Burst),
	)
	return NewDistributed(NewTokenBucket(client), remoteBucketKey, remote.RequestsPerSecond, remote.Burst)
}
