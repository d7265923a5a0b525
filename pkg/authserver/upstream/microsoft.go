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

// Default Microsoft identity platform (v2.0, "common" tenant) endpoints.
const (
	MicrosoftAuthURL     = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	MicrosoftTokenURL    = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	MicrosoftUserInfoURL = "https://graph.microsoft.com/oidc/userinfo"
)

type microsoftUserInfo struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// NewMicrosoftProvider builds the Microsoft upstream provider.
func NewMicrosoftProvider(cfg ProviderConfig) Provider {
	if cfg.AuthURL == "" {
		cfg.AuthURL = MicrosoftAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = MicrosoftTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = MicrosoftUserInfoURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "profile", "email", "offline_access"}
	}

	return newOAuth2Provider(cfg, parseMicrosoftUserInfo)
}

func parseMicrosoftUserInfo(body []byte) (UserInfo, error) {
	var m microsoftUserInfo
	if err := decodeJSON(body, &m); err != nil {
		return UserInfo{}, fmt.Errorf("failed to parse Microsoft userinfo response: %w", err)
	}
	return UserInfo{
		ID:         m.Sub,
		Email:      m.Email,
		Name:       m.Name,
		GivenName:  m.GivenName,
		FamilyName: m.FamilyName,
		Picture:    m.Picture,
	}, nil
}
