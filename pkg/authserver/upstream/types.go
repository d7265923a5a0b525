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

// Package upstream implements UpstreamProvider (spec.md C4): building
// authorization URLs for, and exchanging codes with, external identity
// providers (Google, Microsoft).
package upstream

import "context"

// Name identifies a supported upstream identity provider.
type Name string

// Supported upstream providers.
const (
	Google    Name = "google"
	Microsoft Name = "microsoft"
)

// DefaultProvider is used at /authorize when the client omits `provider`.
const DefaultProvider = Google

// UserInfo is the normalized profile returned by a provider's userinfo
// endpoint, independent of the provider's own field names.
type UserInfo struct {
	ID         string
	Email      string
	Name       string
	GivenName  string
	FamilyName string
	Picture    string
}

// TokenResult is what a successful code exchange plus userinfo fetch
// yields: the upstream tokens plus the normalized profile.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	UserInfo     UserInfo
}

// Provider is the capability set an upstream identity provider exposes:
// authorization URL construction, code exchange (which also fetches the
// userinfo profile), and upstream token refresh. New
// providers are added as additional implementations of this interface
// without any change to AuthFlowCoordinator.
type Provider interface {
	// AuthorizationURL builds the upstream authorize URL for a single
	// login attempt, carrying the broker's own state and PKCE challenge.
	AuthorizationURL(state, codeChallenge, redirectURI string, scopes []string) string

	// ExchangeCode exchanges an upstream authorization code for tokens
	// and the authenticated user's profile. Returns nil, nil (not an
	// error) on any upstream failure — the caller maps that to
	// invalid_grant per spec.md §4.4.
	ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*TokenResult, error)

	// RefreshUpstreamToken exchanges a previously issued upstream refresh
	// token for a new upstream access token (and, if the provider
	// rotates them, a new refresh token), so that a broker refresh-token
	// cycle can keep the bound upstream session alive per spec.md §4.6.
	// Returns nil, nil on any upstream failure, mirroring ExchangeCode;
	// TokenResult.UserInfo is left zero since the caller already knows
	// the resolved identity.
	RefreshUpstreamToken(ctx context.Context, refreshToken string) (*TokenResult, error)
}

// Registry resolves a Name to its configured Provider.
type Registry struct {
	providers map[Name]Provider
}

// NewRegistry builds a Registry from the given providers.
func NewRegistry(providers map[Name]Provider) *Registry {
	return &Registry{providers: providers}
}

// IsSupported reports whether name has a configured provider.
func (r *Registry) IsSupported(name Name) bool {
	_, ok := r.providers[name]
	return ok
}

// Get resolves name to its Provider.
func (r *Registry) Get(name Name) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}
