package cache

import (
	"net"
	"strconv"

	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/env"
)

// NewFiberStorage returns a fiber.Storage on the cache server for middleware
// state such as rate limiter counters. It uses database 1 (the cache uses DB 0).
func NewFiberStorage() *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient := GetClient(); cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		// Prefer password from the underlying client if present
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
