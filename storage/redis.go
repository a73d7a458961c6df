package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisKey is the hash holding allocated SIDs.
const DefaultRedisKey = "sigforge:sids"

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Key      string
}

// RedisSIDStore keeps allocated SIDs in a Redis hash of sid -> category so
// several processes can share one SID space.
type RedisSIDStore struct {
	client *redis.Client
	key    string
	logger *zap.SugaredLogger
}

// NewRedisSIDStore connects to Redis and verifies the connection.
func NewRedisSIDStore(ctx context.Context, cfg RedisConfig, logger *zap.SugaredLogger) (*RedisSIDStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	logger.Infow("Redis SID store connected", "addr", cfg.Addr, "key", key)
	return &RedisSIDStore{client: client, key: key, logger: logger}, nil
}

// LoadUsed returns every SID in the hash in ascending order. Fields that are
// not integers are skipped with a warning.
func (s *RedisSIDStore) LoadUsed(ctx context.Context) ([]int, error) {
	fields, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load SIDs: %w", err)
	}
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		sid, err := strconv.Atoi(f)
		if err != nil {
			s.logger.Warnw("Ignoring malformed SID entry", "key", s.key, "field", f)
			continue
		}
		out = append(out, sid)
	}
	sort.Ints(out)
	return out, nil
}

// MarkUsed records sid with HSETNX so the first category wins.
func (s *RedisSIDStore) MarkUsed(ctx context.Context, sid int, category string) error {
	if err := s.client.HSetNX(ctx, s.key, strconv.Itoa(sid), category).Err(); err != nil {
		return fmt.Errorf("failed to record SID %d: %w", sid, err)
	}
	return nil
}

// Category returns the category sid was allocated from.
func (s *RedisSIDStore) Category(ctx context.Context, sid int) (string, bool, error) {
	cat, err := s.client.HGet(ctx, s.key, strconv.Itoa(sid)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read SID %d: %w", sid, err)
	}
	return cat, true, nil
}

// Close closes the Redis client.
func (s *RedisSIDStore) Close() error {
	return s.client.Close()
}
