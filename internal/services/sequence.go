package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Sequencer hands out the attempt numbers that make each initiation's
// transaction id unique. Values are strictly increasing and never repeat.
type Sequencer interface {
	Next(ctx context.Context) (int64, error)
}

// AtomicSequencer is a process-local counter.
type AtomicSequencer struct {
	n atomic.Int64
}

func NewAtomicSequencer() *AtomicSequencer {
	return &AtomicSequencer{}
}

func (s *AtomicSequencer) Next(_ context.Context) (int64, error) {
	return s.n.Add(1), nil
}

// RedisSequencer shares the counter between processes with INCR.
type RedisSequencer struct {
	redis *redis.Client
	key   string
}

func NewRedisSequencer(redisClient *redis.Client, key string) *RedisSequencer {
	if key == "" {
		key = "payfast:attempt_seq"
	}
	return &RedisSequencer{redis: redisClient, key: key}
}

func (s *RedisSequencer) Next(ctx context.Context) (int64, error) {
	n, err := s.redis.Incr(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redisSequencer: incr %s: %w", s.key, err)
	}
	return n, nil
}
