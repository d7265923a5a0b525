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

package server

import "net/http"

// metadataDocument is the RFC 8414 / OIDC discovery payload. Fields left
// at their zero value by omitempty are dropped entirely, matching
// spec.md §4.8's "null fields are omitted".
type metadataDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`

	// ClientIDMetadataDocumentSupported is a supplemental field this
	// broker publishes so MCP clients can detect support for metadata
	// document-based client identification without a registration round
	// trip.
	ClientIDMetadataDocumentSupported bool `json:"client_id_metadata_document_supported,omitempty"`
}

// MetadataPublisher implements C8: RFC 8414 authorization-server metadata
// and the OIDC discovery document, which share an identical payload for
// this broker.
type MetadataPublisher struct {
	doc metadataDocument
}

// MetadataConfig configures the discovery payload at startup; all fields
// are fixed for the process lifetime.
type MetadataConfig struct {
	Issuer                            string
	ScopesSupported                   []string
	EnableDynamicClientRegistration   bool
	ClientIDMetadataDocumentSupported bool
	IDTokenSigningAlgValuesSupported  []string
}

// NewMetadataPublisher builds the (immutable) discovery document once at
// startup from cfg.
func NewMetadataPublisher(cfg MetadataConfig) *MetadataPublisher {
	doc := metadataDocument{
		Issuer:                            cfg.Issuer,
		AuthorizationEndpoint:             cfg.Issuer + "/oauth/authorize",
		TokenEndpoint:                     cfg.Issuer + "/oauth/token",
		JWKSURI:                           cfg.Issuer + "/oauth/jwks",
		ScopesSupported:                   cfg.ScopesSupported,
		ResponseTypesSupported:            []string{"code"},
		ResponseModesSupported:            []string{"query"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "client_secret_basic", "none"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  cfg.IDTokenSigningAlgValuesSupported,
		ClientIDMetadataDocumentSupported: cfg.ClientIDMetadataDocumentSupported,
	}
	if cfg.EnableDynamicClientRegistration {
		doc.RegistrationEndpoint = cfg.Issuer + "/oauth/register"
	}
	return &MetadataPublisher{doc: doc}
}

// ServeHTTP implements http.Handler so the same value can back both
// well-known paths (they share an identical payload for this broker).
func (p *MetadataPublisher) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, p.doc)
}
