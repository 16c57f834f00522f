package taskstatus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// hashGetter is the slice of the redis client the provider needs.
type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// RedisProvider reads the status field of the task hash the job workers
// maintain (HSET task:<id> status running).
type RedisProvider struct {
	client    hashGetter
	closer    func() error
	keyPrefix string
}

func NewRedisProvider(ctx context.Context, cfg RedisConfig) (*RedisProvider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping task registry redis: %w", err)
	}
	p := newRedisProvider(client, cfg.KeyPrefix)
	p.closer = client.Close
	return p, nil
}

func newRedisProvider(client hashGetter, keyPrefix string) *RedisProvider {
	if keyPrefix == "" {
		keyPrefix = "task:"
	}
	return &RedisProvider{client: client, keyPrefix: keyPrefix}
}

func (p *RedisProvider) Status(ctx context.Context, taskID string) (Status, bool, error) {
	raw, err := p.client.HGet(ctx, p.keyPrefix+strings.TrimSpace(taskID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget task status: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", false, nil
	}
	return Normalize(raw), true, nil
}

func (p *RedisProvider) Close() error {
	if p == nil || p.closer == nil {
		return nil
	}
	return p.closer()
}
