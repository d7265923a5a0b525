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

package clients

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func confidentialClient(t *testing.T, id, secret string) *RegisteredClient {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	require.NoError(t, err)
	return &RegisteredClient{
		ClientID:              id,
		ClientSecretHash:      hash,
		RedirectURIs:          []string{"https://client.example/cb"},
		GrantTypes:            []string{string(GrantAuthorizationCode), string(GrantRefreshToken)},
		Scopes:                []string{"openid", "profile", "email"},
		TokenEndpointAuthMeth: AuthMethodClientSecretPost,
	}
}

func publicClient(id string) *RegisteredClient {
	return &RegisteredClient{
		ClientID:              id,
		RedirectURIs:          []string{"http://127.0.0.1/callback"},
		GrantTypes:            []string{string(GrantAuthorizationCode)},
		Scopes:                []string{"openid"},
		TokenEndpointAuthMeth: AuthMethodNone,
	}
}

func TestRegistry_ValidateSecret_Confidential(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRegistry(Config{}, confidentialClient(t, "c1", "s3cr3t"))

	_, ok := r.ValidateSecret(ctx, "c1", "s3cr3t")
	assert.True(t, ok)

	_, ok = r.ValidateSecret(ctx, "c1", "wrong")
	assert.False(t, ok)

	_, ok = r.ValidateSecret(ctx, "unknown", "s3cr3t")
	assert.False(t, ok)
}

func TestRegistry_ValidateSecret_Public(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRegistry(Config{}, publicClient("pub1"))

	_, ok := r.ValidateSecret(ctx, "pub1", "")
	assert.True(t, ok, "public client with no secret presented should validate")

	_, ok = r.ValidateSecret(ctx, "pub1", "something")
	assert.False(t, ok, "public client must not accept an arbitrary secret")
}

func TestRegistry_ValidateRedirectURI_ExactMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRegistry(Config{}, confidentialClient(t, "c1", "s"))

	assert.True(t, r.ValidateRedirectURI(ctx, "c1", "https://client.example/cb"))
	assert.False(t, r.ValidateRedirectURI(ctx, "c1", "https://evil.example/cb"))
	assert.False(t, r.ValidateRedirectURI(ctx, "c1", "https://client.example/cb/extra"))
}

func TestRegistry_ValidateRedirectURI_Loopback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRegistry(Config{}, publicClient("pub1"))

	assert.True(t, r.ValidateRedirectURI(ctx, "pub1", "http://127.0.0.1:54321/callback"))
	assert.True(t, r.ValidateRedirectURI(ctx, "pub1", "http://127.0.0.1/callback"))
	assert.False(t, r.ValidateRedirectURI(ctx, "pub1", "http://127.0.0.1:54321/other"))
}

func TestRegistry_Register_DisabledByDefault(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{EnableDynamicRegistration: false})

	_, err := r.Register(context.Background(), RegistrationRequest{
		RedirectURIs: []string{"https://client.example/cb"},
	})
	assert.ErrorIs(t, err, ErrRegistrationDisabled)
}

func TestRegistry_Register_RequiresRedirectURIs(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{EnableDynamicRegistration: true})

	_, err := r.Register(context.Background(), RegistrationRequest{})
	assert.ErrorIs(t, err, ErrInvalidRedirectURIs)
}

func TestRegistry_Register_RejectsRelativeURI(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{EnableDynamicRegistration: true})

	_, err := r.Register(context.Background(), RegistrationRequest{
		RedirectURIs: []string{"/relative/path"},
	})
	assert.ErrorIs(t, err, ErrInvalidRedirectURIs)
}

func TestRegistry_Register_ConfidentialClientGetsSecret(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{EnableDynamicRegistration: true, DefaultScopes: []string{"openid"}})

	resp, err := r.Register(context.Background(), RegistrationRequest{
		RedirectURIs: []string{"https://client.example/cb"},
		ClientName:   "Test Client",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ClientID)
	assert.NotEmpty(t, resp.ClientSecret)
	assert.Equal(t, "client_secret_post", resp.TokenEndpointAuthMethod)

	// The secret validates against the stored client.
	_, ok := r.ValidateSecret(context.Background(), resp.ClientID, resp.ClientSecret)
	assert.True(t, ok)
}

func TestRegistry_Register_PublicClientHasNoSecret(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{EnableDynamicRegistration: true})

	resp, err := r.Register(context.Background(), RegistrationRequest{
		RedirectURIs:            []string{"http://127.0.0.1/callback"},
		TokenEndpointAuthMethod: "none",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.ClientSecret)

	_, ok := r.ValidateSecret(context.Background(), resp.ClientID, "")
	assert.True(t, ok)
}

func TestRegistry_Register_ClientIDsAreUnique(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{EnableDynamicRegistration: true})

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		resp, err := r.Register(context.Background(), RegistrationRequest{
			RedirectURIs: []string{"https://client.example/cb"},
		})
		require.NoError(t, err)
		assert.False(t, seen[resp.ClientID])
		seen[resp.ClientID] = true
	}
}

func TestIsLoopbackHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"example.com", false},
		{"10.0.0.1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLoopbackHost(tt.host), tt.host)
	}
}
