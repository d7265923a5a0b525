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
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/stacklok/mcp-oauth-broker/internal/logger"
)

// requestTimeout bounds every blocking call this package makes to an
// upstream provider, per spec.md §5's 10s default deadline.
const requestTimeout = 10 * time.Second

const maxUserInfoBody = 1 << 20 // 1MiB

// ProviderConfig is the static, already-resolved configuration for one
// upstream provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string

	// ExtraAuthParams are appended to the authorization URL (e.g. Google's
	// access_type=offline / prompt=consent to obtain a refresh token).
	ExtraAuthParams map[string]string

	// HTTPClient is used for the token exchange and userinfo fetch. A
	// default *http.Client with requestTimeout is used if nil.
	HTTPClient *http.Client
}

// oauth2Provider is the shared implementation behind the google and
// microsoft variants: both speak standard OAuth 2.0 authorization-code
// plus a provider-specific userinfo endpoint, so only the userinfo
// normalization differs between them.
type oauth2Provider struct {
	cfg         ProviderConfig
	oauthConfig *oauth2.Config
	parseUser   func([]byte) (UserInfo, error)
}

func newOAuth2Provider(cfg ProviderConfig, parseUser func([]byte) (UserInfo, error)) *oauth2Provider {
	return &oauth2Provider{
		cfg: cfg,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		parseUser: parseUser,
	}
}

// AuthorizationURL implements Provider.
func (p *oauth2Provider) AuthorizationURL(state, codeChallenge, redirectURI string, scopes []string) string {
	cfg := *p.oauthConfig
	cfg.RedirectURL = redirectURI
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(codeChallenge),
	}
	for k, v := range p.cfg.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	return cfg.AuthCodeURL(state, opts...)
}

// ExchangeCode implements Provider. It returns (nil, nil) on any upstream
// failure per spec.md §4.4 — the caller maps a nil result to invalid_grant
// rather than propagating a Go error, since the user has already
// authenticated and a retry is not meaningful.
func (p *oauth2Provider) ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*TokenResult, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	httpClient := p.cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	cfg := *p.oauthConfig
	cfg.RedirectURL = redirectURI

	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		logger.Warnw("upstream code exchange failed", "error", err)
		return nil, nil
	}

	userInfo, err := p.fetchUserInfo(ctx, httpClient, token.AccessToken)
	if err != nil {
		logger.Warnw("upstream userinfo fetch failed", "error", err)
		return nil, nil
	}

	expiresIn := int64(0)
	if !token.Expiry.IsZero() {
		if d := time.Until(token.Expiry); d > 0 {
			expiresIn = int64(d.Seconds())
		}
	}

	return &TokenResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn,
		UserInfo:     userInfo,
	}, nil
}

// RefreshUpstreamToken implements Provider using the standard OAuth 2.0
// refresh grant via oauth2.Config's TokenSource, the same mechanism
// golang.org/x/oauth2 uses to auto-refresh expired client tokens.
func (p *oauth2Provider) RefreshUpstreamToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	httpClient := p.cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	source := p.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		logger.Warnw("upstream token refresh failed", "error", err)
		return nil, nil
	}

	expiresIn := int64(0)
	if !token.Expiry.IsZero() {
		if d := time.Until(token.Expiry); d > 0 {
			expiresIn = int64(d.Seconds())
		}
	}

	return &TokenResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn,
	}, nil
}

func (p *oauth2Provider) fetchUserInfo(ctx context.Context, client *http.Client, accessToken string) (UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return UserInfo{}, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBody))
	if err != nil {
		return UserInfo{}, fmt.Errorf("failed to read userinfo response: %w", err)
	}

	return p.parseUser(body)
}

func decodeJSON(data []byte, dest any) error {
	return json.Unmarshal(data, dest)
}
