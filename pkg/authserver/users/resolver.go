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

package users

import (
	"context"
	"sync"
	"time"

	"github.com/stacklok/mcp-oauth-broker/internal/logger"
)

// timeNow is a var so tests can override it; production always uses the
// real clock.
var timeNow = time.Now

// identityKey is the (provider, upstream subject) pair a Record is keyed
// on, since two providers may coincidentally issue the same subject
// identifier.
type identityKey struct {
	provider string
	subID    string
}

// InMemoryResolver is the default Resolver: an auto-provisioning local
// user directory held entirely in memory. It is suitable for a single
// broker instance or tests; a persistent-store-backed Resolver is a drop
// in replacement behind the same interface.
type InMemoryResolver struct {
	mu     sync.Mutex
	byKey  map[identityKey]*Record
	nextID int64
}

// NewInMemoryResolver constructs an empty, ready to use InMemoryResolver.
func NewInMemoryResolver() *InMemoryResolver {
	return &InMemoryResolver{
		byKey:  make(map[identityKey]*Record),
		nextID: 1,
	}
}

// Resolve implements Resolver.
func (r *InMemoryResolver) Resolve(_ context.Context, identity Identity) (*Record, error) {
	key := identityKey{provider: identity.Provider, subID: identity.UpstreamSubID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byKey[key]; ok {
		existing.Email = identity.Email
		existing.Name = identity.Name
		existing.GivenName = identity.GivenName
		existing.FamilyName = identity.FamilyName
		existing.Picture = identity.Picture
		existing.LastLoginAt = timeNow()
		return existing, nil
	}

	record := &Record{
		ID:            r.nextID,
		Provider:      identity.Provider,
		UpstreamSubID: identity.UpstreamSubID,
		Email:         identity.Email,
		Name:          identity.Name,
		GivenName:     identity.GivenName,
		FamilyName:    identity.FamilyName,
		Picture:       identity.Picture,
		CreatedAt:     timeNow(),
		LastLoginAt:   timeNow(),
	}
	r.nextID++
	r.byKey[key] = record

	logger.Debugw("auto-provisioned local user",
		"user_id", record.ID,
		"provider", record.Provider,
	)

	return record, nil
}
