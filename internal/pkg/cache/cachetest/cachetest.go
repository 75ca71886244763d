// Package cachetest provides an in-process Redis for tests.
package cachetest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/cache"
)

// NewRedis starts a miniredis server that is torn down with t.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// NewStore returns a cache.Store on a fresh miniredis.
func NewStore(t *testing.T) (*miniredis.Miniredis, *cache.RedisStore) {
	t.Helper()

	mr, rdb := NewRedis(t)
	return mr, cache.NewRedisStore(rdb)
}
