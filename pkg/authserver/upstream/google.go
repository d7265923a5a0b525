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

import "fmt"

// Default Google OAuth 2.0 / OIDC endpoints.
const (
	GoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL    = "https://oauth2.googleapis.com/token"
	GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
	EmailVerified bool   `json:"email_verified"`
}

// NewGoogleProvider builds the Google upstream provider. Per spec.md
// §4.4, access_type=offline and prompt=consent are set so that Google
// issues a refresh token even on a user's Nth consent, not just the
// first.
func NewGoogleProvider(cfg ProviderConfig) Provider {
	if cfg.AuthURL == "" {
		cfg.AuthURL = GoogleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = GoogleTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = GoogleUserInfoURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "profile", "email"}
	}
	if cfg.ExtraAuthParams == nil {
		cfg.ExtraAuthParams = map[string]string{}
	}
	cfg.ExtraAuthParams["access_type"] = "offline"
	cfg.ExtraAuthParams["prompt"] = "consent"

	return newOAuth2Provider(cfg, parseGoogleUserInfo)
}

func parseGoogleUserInfo(body []byte) (UserInfo, error) {
	var g googleUserInfo
	if err := decodeJSON(body, &g); err != nil {
		return UserInfo{}, fmt.Errorf("failed to parse Google userinfo response: %w", err)
	}
	return UserInfo{
		ID:         g.Sub,
		Email:      g.Email,
		Name:       g.Name,
		GivenName:  g.GivenName,
		FamilyName: g.FamilyName,
		Picture:    g.Picture,
	}, nil
}
