package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisKV is the session-tier backend: every write carries a TTL so entries
// only bridge short-lived races (reloads, reconnects) and then disappear.
type RedisKV struct {
	rdb     *goredis.Client
	ttl     time.Duration
	timeout time.Duration
}

func NewRedisKV(rdb *goredis.Client, ttl time.Duration) *RedisKV {
	return &RedisKV{rdb: rdb, ttl: ttl, timeout: 2 * time.Second}
}

func (s *RedisKV) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisKV) Get(key string) ([]byte, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: redis get %s: %v", ErrTierUnavailable, key, err)
	}
	return val, true, nil
}

func (s *RedisKV) Set(key string, value []byte) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set %s: %v", ErrTierUnavailable, key, err)
	}
	return nil
}

func (s *RedisKV) Delete(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: redis del %s: %v", ErrTierUnavailable, key, err)
	}
	return nil
}

func (s *RedisKV) Keys(prefix string) ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var out []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: redis scan %s: %v", ErrTierUnavailable, prefix, err)
	}
	sort.Strings(out)
	return out, nil
}
