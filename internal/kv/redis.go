// -------------------------------------------------------------------------------
// RedisBackend - Networked Structured Database
//
// Author: Alex Freidah
//
// Structured metadata backend on Redis. Each namespace is one hash named
// "{prefix}:{database}:{store}", so List and Clear are single commands.
// -------------------------------------------------------------------------------

package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend over a Redis server.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a client from configuration. Connectivity is not
// checked here; the selector's liveness probe does that.
func NewRedisBackend(cfg config.RedisConfig) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisBackendFromClient(client, cfg.KeyPrefix)
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "qcut"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// Name returns "redis".
func (b *RedisBackend) Name() string { return "redis" }

// Open returns an adapter over the namespace hash.
func (b *RedisBackend) Open(_ context.Context, ns Namespace) (Adapter, error) {
	return &redisAdapter{
		client: b.client,
		ns:     ns,
		hash:   fmt.Sprintf("%s:%s:%s", b.prefix, ns.Database, ns.Store),
	}, nil
}

// Close closes the client connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

type redisAdapter struct {
	client *redis.Client
	ns     Namespace
	hash   string
}

func (a *redisAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, op := startOperation(ctx, "redis", opGet, a.ns, key)
	value, err := a.client.HGet(ctx, a.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		op.end(nil)
		return nil, false, nil
	}
	op.end(err)
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s/%s failed: %w", a.ns, key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

func (a *redisAdapter) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	ctx, op := startOperation(ctx, "redis", opSet, a.ns, key)
	err := a.client.HSet(ctx, a.hash, key, value).Err()
	op.end(err)
	if err != nil {
		return fmt.Errorf("redis set %s/%s failed: %w", a.ns, key, err)
	}
	return nil
}

func (a *redisAdapter) Remove(ctx context.Context, key string) error {
	ctx, op := startOperation(ctx, "redis", opRemove, a.ns, key)
	err := a.client.HDel(ctx, a.hash, key).Err()
	op.end(err)
	if err != nil {
		return fmt.Errorf("redis remove %s/%s failed: %w", a.ns, key, err)
	}
	return nil
}

func (a *redisAdapter) List(ctx context.Context) ([]string, error) {
	ctx, op := startOperation(ctx, "redis", opList, a.ns, "")
	keys, err := a.client.HKeys(ctx, a.hash).Result()
	op.end(err)
	if err != nil {
		return nil, fmt.Errorf("redis list %s failed: %w", a.ns, err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

func (a *redisAdapter) Clear(ctx context.Context) error {
	ctx, op := startOperation(ctx, "redis", opClear, a.ns, "")
	err := a.client.Del(ctx, a.hash).Err()
	op.end(err)
	if err != nil {
		return fmt.Errorf("redis clear %s failed: %w", a.ns, err)
	}
	return nil
}
