// Copyright 2025 Stacklok, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// getAndDeleteScript atomically reads and deletes a key. Redis executes
// Lua scripts atomically, which is what makes this a true compare-and-delete:
// no other client can observe the key between the GET and the DEL.
var getAndDeleteScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
	redis.call("DEL", KEYS[1])
end
return v
`)

// RedisCache is a Cache implementation backed by Redis, for deployments
// that run more than one broker instance behind a load balancer. TTLs are
// delegated to Redis's native key expiry.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing *redis.Client. The caller owns the
// client's lifecycle; Close on the returned RedisCache does not close it.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	return Unmarshal(data, dest)
}

// Remove implements Cache.
func (c *RedisCache) Remove(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// TryConsume implements Cache via a Lua GETDEL so the read and the delete
// are a single atomic operation from Redis's point of view, giving exactly
// one concurrent caller a non-ErrNotFound result.
func (c *RedisCache) TryConsume(ctx context.Context, key string, dest any) error {
	result, err := getAndDeleteScript.Run(ctx, c.client, []string{key}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}

	str, ok := result.(string)
	if !ok || str == "" {
		return ErrNotFound
	}
	return Unmarshal([]byte(str), dest)
}

// Close implements Cache. It is a no-op: the client passed to
// NewRedisCache is never closed here and must be closed by its owner.
func (c *RedisCache) Close() error {
	return nil
}

var _ Cache = (*RedisCache)(nil)
