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

package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockUpstreamServer struct {
	*httptest.Server
	tokenHandler    func(w http.ResponseWriter, r *http.Request)
	userInfoHandler func(w http.ResponseWriter, r *http.Request)
}

func newMockUpstreamServer() *mockUpstreamServer {
	m := &mockUpstreamServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHandler != nil {
			m.tokenHandler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "upstream-access-token",
			"refresh_token": "upstream-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if m.userInfoHandler != nil {
			m.userInfoHandler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":   "upstream-sub-123",
			"email": "alice@example.com",
			"name":  "Alice Example",
		})
	})
	m.Server = httptest.NewServer(mux)
	return m
}

func (m *mockUpstreamServer) providerConfig() ProviderConfig {
	return ProviderConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      m.URL + "/authorize",
		TokenURL:     m.URL + "/token",
		UserInfoURL:  m.URL + "/userinfo",
		Scopes:       []string{"openid", "email"},
		HTTPClient:   m.Client(),
	}
}

func TestOAuth2Provider_AuthorizationURL(t *testing.T) {
	t.Parallel()
	m := newMockUpstreamServer()
	defer m.Close()

	p := newOAuth2Provider(m.providerConfig(), parseGoogleUserInfo)
	authURL := p.AuthorizationURL("state-123", "challenge-abc", "https://broker.example/callback/google", []string{"openid"})

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()

	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "challenge-abc", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "https://broker.example/callback/google", q.Get("redirect_uri"))
}

func TestOAuth2Provider_ExchangeCode_Success(t *testing.T) {
	t.Parallel()
	m := newMockUpstreamServer()
	defer m.Close()

	p := newOAuth2Provider(m.providerConfig(), parseGoogleUserInfo)
	result, err := p.ExchangeCode(context.Background(), "upstream-code", "verifier", "https://broker.example/callback/google")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "upstream-access-token", result.AccessToken)
	assert.Equal(t, "upstream-refresh-token", result.RefreshToken)
	assert.Equal(t, "upstream-sub-123", result.UserInfo.ID)
	assert.Equal(t, "alice@example.com", result.UserInfo.Email)
}

func TestOAuth2Provider_ExchangeCode_TokenEndpointFailure(t *testing.T) {
	t.Parallel()
	m := newMockUpstreamServer()
	defer m.Close()
	m.tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}

	p := newOAuth2Provider(m.providerConfig(), parseGoogleUserInfo)
	result, err := p.ExchangeCode(context.Background(), "bad-code", "verifier", "https://broker.example/callback/google")

	// spec.md §4.4: returns nil, nil on upstream failure, not an error.
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestOAuth2Provider_ExchangeCode_UserInfoFailure(t *testing.T) {
	t.Parallel()
	m := newMockUpstreamServer()
	defer m.Close()
	m.userInfoHandler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}

	p := newOAuth2Provider(m.providerConfig(), parseGoogleUserInfo)
	result, err := p.ExchangeCode(context.Background(), "code", "verifier", "https://broker.example/callback/google")

	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestNewGoogleProvider_SetsConsentParams(t *testing.T) {
	t.Parallel()
	m := newMockUpstreamServer()
	defer m.Close()

	p := NewGoogleProvider(m.providerConfig())
	authURL := p.AuthorizationURL("s", "c", "https://broker.example/callback/google", nil)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "offline", parsed.Query().Get("access_type"))
	assert.Equal(t, "consent", parsed.Query().Get("prompt"))
}

func TestOAuth2Provider_RefreshUpstreamToken_Success(t *testing.T) {
	t.Parallel()
	m := newMockUpstreamServer()
	defer m.Close()
	m.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "upstream-refresh-token", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "rotated-upstream-access-token",
			"refresh_token": "rotated-upstream-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}

	p := newOAuth2Provider(m.providerConfig(), parseGoogleUserInfo)
	result, err := p.RefreshUpstreamToken(context.Background(), "upstream-refresh-token")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "rotated-upstream-access-token", result.AccessToken)
	assert.Equal(t, "rotated-upstream-refresh-token", result.RefreshToken)
	assert.Positive(t, result.ExpiresIn)
}

func TestOAuth2Provider_RefreshUpstreamToken_UpstreamFailure(t *testing.T) {
	t.Parallel()
	m := newMockUpstreamServer()
	defer m.Close()
	m.tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}

	p := newOAuth2Provider(m.providerConfig(), parseGoogleUserInfo)
	result, err := p.RefreshUpstreamToken(context.Background(), "stale-refresh-token")

	// Mirrors ExchangeCode: upstream failure is reported as nil, nil, not an error.
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRegistry_IsSupported(t *testing.T) {
	t.Parallel()
	m := newMockUpstreamServer()
	defer m.Close()

	r := NewRegistry(map[Name]Provider{
		Google: NewGoogleProvider(m.providerConfig()),
	})

	assert.True(t, r.IsSupported(Google))
	assert.False(t, r.IsSupported(Microsoft))
	assert.False(t, r.IsSupported(Name("okta")))
}
