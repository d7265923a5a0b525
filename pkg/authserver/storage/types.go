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

// Package storage implements PersistedCache, the TTL'd key-value store
// used to correlate the client-facing and upstream-facing legs of an
// authorization attempt across HTTP request boundaries.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
// Expired lookups are indistinguishable from missing ones by design,
// so that a replayed or stale key cannot be used to infer timing.
var ErrNotFound = errors.New("storage: key not found")

// Cache is the PersistedCache interface (spec.md C3): a TTL'd key-value
// store safe for concurrent access. Whether entries survive a process
// restart depends on the implementation: RedisCache keeps them in Redis,
// MemoryCache loses them. Implementations must honor TTL expiry and must implement
// TryConsume as an atomic compare-and-delete so that concurrent callers
// presenting the same one-shot key see exactly one success.
type Cache interface {
	// Set stores value under key with the given TTL, serialized as JSON.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Get deserializes the value stored under key into dest. Returns
	// ErrNotFound if the key is absent or expired.
	Get(ctx context.Context, key string, dest any) error

	// Remove deletes key unconditionally. Removing an absent key is not
	// an error.
	Remove(ctx context.Context, key string) error

	// TryConsume atomically removes key and deserializes its prior value
	// into dest, returning ErrNotFound if the key was already absent or
	// expired. Exactly one concurrent caller racing on the same key
	// observes a nil error; all others observe ErrNotFound. This is the
	// primitive that gives authorization codes, state mappings, and PKCE
	// sessions their single-use semantics.
	TryConsume(ctx context.Context, key string, dest any) error

	// Close releases any resources held by the cache.
	Close() error
}

// Marshal is a small helper so both backends encode values identically.
func Marshal(value any) ([]byte, error) {
	return json.Marshal(value)
}

// Unmarshal is the mirror of Marshal.
func Unmarshal(data []byte, dest any) error {
	return json.Unmarshal(data, dest)
}
