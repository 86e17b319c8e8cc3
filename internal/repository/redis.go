package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"mindsync/internal/config"
	"mindsync/internal/models"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	client := redis.NewClient(options)

	return client
}

// RedisDeadLetter keeps failed records in a capped Redis list for operators.
type RedisDeadLetter struct {
	client *redis.Client
	key    string
	limit  int64
}

// NewRedisDeadLetter keeps at most limit entries; limit <= 0 keeps everything.
func NewRedisDeadLetter(client *redis.Client, key string, limit int64) *RedisDeadLetter {
	return &RedisDeadLetter{client: client, key: key, limit: limit}
}

// Push prepends the record; the newest failure is at index 0.
func (r *RedisDeadLetter) Push(ctx context.Context, rec *models.StagedRecord) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	if r.limit > 0 {
		pipe.LTrim(ctx, r.key, 0, r.limit-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

// List returns up to n dead letters, newest first.
func (r *RedisDeadLetter) List(ctx context.Context, n int64) ([]*models.StagedRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if n <= 0 {
		return nil, nil
	}
	vals, err := r.client.LRange(ctx, r.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	out := make([]*models.StagedRecord, 0, len(vals))
	for _, v := range vals {
		var rec models.StagedRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (r *RedisDeadLetter) Len(ctx context.Context) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	return r.client.LLen(ctx, r.key).Result()
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the client if it was created.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
