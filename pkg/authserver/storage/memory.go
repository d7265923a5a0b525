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
	"sync"
	"time"
)

// MemoryCache is an in-process Cache implementation. It does not survive a
// process restart; it exists for single-instance deployments and tests.
// Production multi-instance deployments should use NewRedisCache instead.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	done    chan struct{}
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryCache creates a MemoryCache and starts its background janitor,
// which sweeps expired entries so the map does not grow unbounded.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
	go c.reap()
	return c
}

func (c *MemoryCache) reap() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for k, e := range c.entries {
				if e.expired(now) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := Marshal(value)
	if err != nil {
		return err
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = memoryEntry{data: data, expiresAt: expiresAt}
	c.mu.Unlock()
	return nil
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string, dest any) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()

	if !ok || e.expired(time.Now()) {
		return ErrNotFound
	}
	return Unmarshal(e.data, dest)
}

// Remove implements Cache.
func (c *MemoryCache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// TryConsume implements Cache. The mutex makes the read-then-delete
// atomic with respect to every other Cache method on this instance, which
// is what gives callers exactly-once redemption semantics.
func (c *MemoryCache) TryConsume(_ context.Context, key string, dest any) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if !ok || e.expired(time.Now()) {
		return ErrNotFound
	}
	return Unmarshal(e.data, dest)
}

// Close stops the background janitor.
func (c *MemoryCache) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}

var _ Cache = (*MemoryCache)(nil)
