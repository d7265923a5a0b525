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

// Package users implements UserResolver (spec.md C5): mapping an
// upstream identity to a stable local user, auto-provisioning on first
// sight.
package users

import (
	"context"
	"time"
)

// Identity is the normalized claim set an upstream provider produced for
// one login, independent of which provider issued it.
type Identity struct {
	Provider      string
	UpstreamSubID string
	Email         string
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
}

// Record is the broker's local view of a user, keyed by a stable numeric
// ID rather than the upstream's own subject identifier (spec.md §3:
// the token subject is rewritten to this ID so clients do not depend on
// the upstream ID's shape).
type Record struct {
	ID            int64
	Provider      string
	UpstreamSubID string
	Email         string
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
	CreatedAt     time.Time
	LastLoginAt   time.Time
}

// Resolver maps an upstream Identity to a local Record, auto-provisioning
// one the first time a given (provider, upstream_sub_id) pair is seen.
//
// Resolve returns a nil Record only on infrastructure failure (e.g. the
// backing store is unreachable); the caller logs the error and continues
// the flow with the upstream subject identifier left in place of a local
// ID. An Identity with no matching or provisionable
// record is never itself treated as a failure — resolution always
// succeeds for a well-formed Identity.
type Resolver interface {
	Resolve(ctx context.Context, identity Identity) (*Record, error)
}
