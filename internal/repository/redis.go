package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"metrics-relay/internal/domain"
)

type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// RedisStore maps the store primitives onto GET, LPOP and SCAN.
type RedisStore struct {
	opts   RedisOptions
	client *redis.Client
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	return &RedisStore{opts: opts}
}

// Init connects and pings. A failed ping is returned so the caller can decide
// whether to start anyway; the client itself reconnects on demand.
func (s *RedisStore) Init() error {
	s.client = redis.NewClient(&redis.Options{
		Addr:        s.opts.Addr,
		Password:    s.opts.Password,
		DB:          s.opts.DB,
		DialTimeout: s.opts.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping %s: %w", domain.ErrStoreUnavailable, s.opts.Addr, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %q: %w", domain.ErrStoreUnavailable, key, err)
	}
	return value, true, nil
}

func (s *RedisStore) PopFront(ctx context.Context, queueKey string) ([]byte, bool, error) {
	value, err := s.client.LPop(ctx, queueKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: lpop %q: %w", domain.ErrStoreUnavailable, queueKey, err)
	}
	return value, true, nil
}

// KeysMatching walks the keyspace with SCAN instead of KEYS so a large
// database is never blocked by one call.
func (s *RedisStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %q: %w", domain.ErrStoreUnavailable, pattern, err)
	}
	return keys, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: set %q: %w", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *RedisStore) PushBack(ctx context.Context, queueKey string, value []byte) error {
	if err := s.client.RPush(ctx, queueKey, value).Err(); err != nil {
		return fmt.Errorf("%w: rpush %q: %w", domain.ErrStoreUnavailable, queueKey, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
