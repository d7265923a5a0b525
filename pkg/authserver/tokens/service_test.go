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

package tokens

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcp-oauth-broker/pkg/authserver/storage"
)

func newTestService(t *testing.T) (*JWTService, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	svc, err := NewJWTService(Config{
		SigningKey:      key,
		Algorithm:       jose.RS256,
		KeyID:           "test-key-1",
		Issuer:          "https://broker.example",
		Audience:        "mcp-server",
		AccessTokenTTL:  5 * time.Minute,
		RefreshTokenTTL: time.Hour,
		Cache:           storage.NewMemoryCache(),
	})
	require.NoError(t, err)
	return svc, key
}

func TestJWTService_IssueAccessToken_ProducesVerifiableJWT(t *testing.T) {
	t.Parallel()
	svc, key := newTestService(t)

	issued, err := svc.IssueAccessToken(context.Background(), Claims{
		Sub:      "42",
		Email:    "alice@example.com",
		Provider: "google",
		ClientID: "client-abc",
		Scopes:   []string{"openid", "email"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, issued.AccessToken)
	require.NotEmpty(t, issued.RefreshToken)
	assert.Equal(t, "Bearer", issued.TokenType)
	assert.Equal(t, int64(300), issued.ExpiresIn)

	parsed, err := josejwt.ParseSigned(issued.AccessToken, []jose.SignatureAlgorithm{jose.RS256})
	require.NoError(t, err)

	var claims josejwt.Claims
	require.NoError(t, parsed.Claims(&key.PublicKey, &claims))
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "https://broker.example", claims.Issuer)
}

func TestJWTService_Refresh_RotatesToken(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssueAccessToken(ctx, Claims{Sub: "7", ClientID: "client-abc"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, issued.RefreshToken, "client-abc")
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.NotEqual(t, issued.RefreshToken, refreshed.RefreshToken)

	// The original refresh token is now invalid: rotation consumed it.
	_, err = svc.Refresh(ctx, issued.RefreshToken, "client-abc")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestJWTService_Refresh_RejectsWrongClient(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssueAccessToken(ctx, Claims{Sub: "7", ClientID: "client-abc"})
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, issued.RefreshToken, "different-client")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestJWTService_Refresh_UnknownToken(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.Refresh(context.Background(), "never-issued", "client-abc")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestJWTService_JWKS_PublishesPublicKey(t *testing.T) {
	t.Parallel()
	svc, key := newTestService(t)

	jwks := svc.JWKS()
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "test-key-1", jwks.Keys[0].KeyID)
	assert.Equal(t, "RS256", jwks.Keys[0].Algorithm)
	pub, ok := jwks.Keys[0].Key.(*rsa.PublicKey)
	require.True(t, ok)
	assert.True(t, key.PublicKey.Equal(pub))
}

type fakeUpstreamRefresher struct {
	calls        int
	lastProvider string
	lastToken    string
	result       *UpstreamRefreshResult
	err          error
}

func (f *fakeUpstreamRefresher) RefreshUpstreamToken(_ context.Context, provider, refreshToken string) (*UpstreamRefreshResult, error) {
	f.calls++
	f.lastProvider = provider
	f.lastToken = refreshToken
	return f.result, f.err
}

func TestJWTService_Refresh_RotatesBoundUpstreamToken(t *testing.T) {
	t.Parallel()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	upstreamRefresher := &fakeUpstreamRefresher{
		result: &UpstreamRefreshResult{AccessToken: "new-upstream-access", RefreshToken: "new-upstream-refresh"},
	}
	svc, err := NewJWTService(Config{
		SigningKey:        key,
		Algorithm:         jose.RS256,
		KeyID:             "test-key-1",
		Issuer:            "https://broker.example",
		Audience:          "mcp-server",
		AccessTokenTTL:    5 * time.Minute,
		RefreshTokenTTL:   time.Hour,
		Cache:             storage.NewMemoryCache(),
		UpstreamRefresher: upstreamRefresher,
	})
	require.NoError(t, err)

	ctx := context.Background()
	issued, err := svc.IssueAccessToken(ctx, Claims{
		Sub:                  "7",
		ClientID:             "client-abc",
		Provider:             "google",
		UpstreamAccessToken:  "old-upstream-access",
		UpstreamRefreshToken: "old-upstream-refresh",
	})
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, issued.RefreshToken, "client-abc")
	require.NoError(t, err)

	assert.Equal(t, 1, upstreamRefresher.calls)
	assert.Equal(t, "google", upstreamRefresher.lastProvider)
	assert.Equal(t, "old-upstream-refresh", upstreamRefresher.lastToken)
}

func TestJWTService_Refresh_KeepsPriorUpstreamTokenWhenRefresherFails(t *testing.T) {
	t.Parallel()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	upstreamRefresher := &fakeUpstreamRefresher{err: assert.AnError}
	svc, err := NewJWTService(Config{
		SigningKey:        key,
		Algorithm:         jose.RS256,
		KeyID:             "test-key-1",
		Issuer:            "https://broker.example",
		Audience:          "mcp-server",
		AccessTokenTTL:    5 * time.Minute,
		RefreshTokenTTL:   time.Hour,
		Cache:             storage.NewMemoryCache(),
		UpstreamRefresher: upstreamRefresher,
	})
	require.NoError(t, err)

	ctx := context.Background()
	issued, err := svc.IssueAccessToken(ctx, Claims{
		Sub:                  "7",
		ClientID:             "client-abc",
		Provider:             "google",
		UpstreamRefreshToken: "old-upstream-refresh",
	})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, issued.RefreshToken, "client-abc")
	require.NoError(t, err)
	assert.Equal(t, 1, upstreamRefresher.calls)

	// The prior upstream refresh token was carried forward: the next
	// rotation presents it again.
	_, err = svc.Refresh(ctx, refreshed.RefreshToken, "client-abc")
	require.NoError(t, err)
	assert.Equal(t, "old-upstream-refresh", upstreamRefresher.lastToken)
}
