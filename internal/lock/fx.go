package lock

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/allocledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(provideLocker),
)

func provideLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Locker {
	if cfg.Redis.Addr == "" {
		log.Info("using in-process entity lock")
		return NewLocal()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	ttl := time.Duration(cfg.Redis.LockTTLSeconds) * time.Second
	log.Info("using redis entity lock", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", ttl))
	return NewRedis(client, "allocledger:lock:", ttl, ttl)
}
