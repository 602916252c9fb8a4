package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the byte-level cache backend shared by both cache tiers.
// Redis in production, an in-process LRU as fallback and in tests.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

type redisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(host string, port int, password string, db int, logger *zap.Logger) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Redis store initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &redisStore{client: client, logger: logger}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get failed: %w", err)
	}
	return data, true, nil
}

func (s *redisStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

func (s *redisStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache scan failed: %w", err)
	}
	return keys, nil
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// memoryStore keeps entries in a bounded expirable LRU. The cache-level
// TTL only caps entry lifetime; the per-key TTL from SetEx is enforced
// on read.
type memoryStore struct {
	lru *expirable.LRU[string, memoryEntry]
}

func NewMemoryStore(maxEntries int) Store {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &memoryStore{
		lru: expirable.NewLRU[string, memoryEntry](maxEntries, nil, 24*time.Hour),
	}
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.lru.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *memoryStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.lru.Add(key, entry)
	return nil
}

func (s *memoryStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for _, key := range s.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *memoryStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		s.lru.Remove(key)
	}
	return nil
}

func (s *memoryStore) Ping(ctx context.Context) error {
	return nil
}
