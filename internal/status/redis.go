package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "filmy:status:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// RedisStore shares statuses between several API processes.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("connected to redis status store", "addr", cfg.Addr, "db", cfg.DB)
	return &RedisStore{client: client, logger: logger}, nil
}

func newRedisStoreWithClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func (r *RedisStore) Set(ctx context.Context, id string, s Status) error {
	if err := checkSet(id, s); err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisKeyPrefix+id, string(s), 0).Err(); err != nil {
		return fmt.Errorf("redis set status: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (Status, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return Unknown, nil
	}
	if err != nil {
		r.logger.Warn("redis get status failed", "id", id, "error", err)
		return Unknown, fmt.Errorf("redis get status: %w", err)
	}
	return Status(val), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
