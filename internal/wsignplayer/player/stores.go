package player

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/config"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/kv"
)

// OpenStore opens the identity backend selected in cfg
func OpenStore(ctx context.Context, cfg config.IdentityConfig) (kv.Store, error) {
	switch cfg.Backend {
	case "memory":
		return kv.NewMemoryStore(), nil
	case "sqlite", "":
		return kv.OpenSQLite(cfg.Path)
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return kv.NewRedisStore(rdb, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown identity backend %q", cfg.Backend)
	}
}
