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

// Package tokens implements TokenService (spec.md C6): minting signed
// access tokens bound to the rewritten local identity, and issuing /
// rotating opaque refresh tokens.
package tokens

import (
	"context"
	"errors"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// ErrInvalidRefreshToken is returned by Refresh when the supplied refresh
// token is unknown, expired, or has already been consumed by a prior
// refresh (rotation invalidates the token it replaces).
var ErrInvalidRefreshToken = errors.New("tokens: invalid or already-used refresh token")

// Claims is the identity the broker asserts about the user in a minted
// access token. Sub is the broker's own local numeric user ID when user
// resolution succeeded at callback time; when resolution was skipped (no
// email) or failed, it is the upstream provider's subject identifier.
type Claims struct {
	Sub        string
	Email      string
	Name       string
	GivenName  string
	FamilyName string
	Picture    string
	Provider   string
	ClientID   string
	Scopes     []string

	// UpstreamAccessToken and UpstreamRefreshToken are the tokens issued
	// by the upstream provider at the original login. They are carried
	// forward through refresh-token rotation so a client's refresh cycle
	// can also rotate the bound upstream session (spec.md §4.6); they
	// are never included in the signed access token itself.
	UpstreamAccessToken  string
	UpstreamRefreshToken string
}

// IssuedTokens is the full response to a successful /oauth/token exchange.
type IssuedTokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string
}

// Service mints and rotates tokens on the broker's own behalf. The
// upstream provider tokens in Claims are stored with each refresh token
// and, when an UpstreamRefresher is configured, rotated on Refresh; they
// never appear in the signed access token.
type Service interface {
	// IssueAccessToken mints a signed access token plus a freshly
	// generated opaque refresh token for claims.
	IssueAccessToken(ctx context.Context, claims Claims) (*IssuedTokens, error)

	// Refresh exchanges refreshToken for a new access token and a new
	// refresh token, invalidating refreshToken in the same operation so
	// it cannot be redeemed twice (spec.md §9 Open Question: rotation).
	Refresh(ctx context.Context, refreshToken, clientID string) (*IssuedTokens, error)

	// JWKS returns the public half of the signing key(s) this Service
	// signs access tokens with, published at the discovery jwks_uri so
	// resource servers can verify them.
	JWKS() jose.JSONWebKeySet
}

// UpstreamRefreshResult is the outcome of rotating a bound upstream
// refresh token, as returned by an UpstreamRefresher.
type UpstreamRefreshResult struct {
	AccessToken  string
	RefreshToken string
}

// UpstreamRefresher rotates the upstream credential bound to a broker
// refresh token (spec.md §4.6). A Service that does not bind upstream
// tokens may be built with a nil UpstreamRefresher; rotation is then
// skipped and the previously stored upstream tokens are carried forward
// unchanged.
type UpstreamRefresher interface {
	RefreshUpstreamToken(ctx context.Context, provider, refreshToken string) (*UpstreamRefreshResult, error)
}

// lifespans bundles the configured token lifetimes; the zero value is
// never valid, callers must supply both.
type lifespans struct {
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}
