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

// Package clients implements ClientRegistry (spec.md C2): registered
// OAuth client storage, credential/redirect-URI validation, and dynamic
// client registration (RFC 7591).
package clients

import "time"

// AuthMethod is the set of supported token_endpoint_auth_method values.
type AuthMethod string

// Supported token endpoint authentication methods.
const (
	AuthMethodClientSecretPost  AuthMethod = "client_secret_post"
	AuthMethodClientSecretBasic AuthMethod = "client_secret_basic"
	AuthMethodNone              AuthMethod = "none"
)

// GrantType is an OAuth grant type this registry recognizes.
type GrantType string

// Supported grant types.
const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// RegisteredClient is a client the broker will issue authorization codes
// and tokens to. ClientSecretHash, never ClientSecret, is persisted: the
// plaintext secret is only ever available at registration time.
type RegisteredClient struct {
	ClientID              string     `json:"client_id"`
	ClientSecretHash      []byte     `json:"client_secret_hash,omitempty"`
	ClientName            string     `json:"client_name,omitempty"`
	RedirectURIs          []string   `json:"redirect_uris"`
	GrantTypes            []string   `json:"grant_types"`
	Scopes                []string   `json:"scopes"`
	TokenEndpointAuthMeth AuthMethod `json:"token_endpoint_auth_method"`
	CreatedAt             time.Time  `json:"created_at"`
}

// IsPublic reports whether the client was registered without a secret.
func (c *RegisteredClient) IsPublic() bool {
	return c.TokenEndpointAuthMeth == AuthMethodNone
}

// HasGrantType reports whether grant is one of the client's permitted
// grant types.
func (c *RegisteredClient) HasGrantType(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// HasScope reports whether scope is one of the client's registered scopes.
func (c *RegisteredClient) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RegistrationRequest is the RFC 7591 dynamic client registration request
// body, echoing the shape the teacher's client-side DCR request uses.
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// RegistrationResponse is the RFC 7591 response. ClientSecret is present
// exactly once, at registration time, for confidential clients.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
}
