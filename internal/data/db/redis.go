package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
	"github.com/consilience-ai/consilience-backend/internal/utils"
)

// NewRedisClient connects to the cache backend named by REDIS_ADDR. Returns
// (nil, nil) when no address is configured so callers can treat the cache as
// optional.
func NewRedisClient(log *logger.Logger) (*redis.Client, error) {
	addr := utils.GetEnv("REDIS_ADDR", "", log)
	if addr == "" {
		return nil, nil
	}
	password := utils.GetEnv("REDIS_PASSWORD", "", log)
	dbNum := utils.GetEnvAsInt("REDIS_DB", 0, log)

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          dbNum,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return rdb, nil
}
