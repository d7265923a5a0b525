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

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataPublisher_IncludesRegistrationEndpointWhenEnabled(t *testing.T) {
	t.Parallel()
	p := NewMetadataPublisher(MetadataConfig{
		Issuer:                          "https://broker.example",
		ScopesSupported:                 []string{"openid", "mcp:tools"},
		EnableDynamicClientRegistration: true,
	})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://broker.example/oauth/register", doc["registration_endpoint"])
	assert.Equal(t, []any{"code"}, doc["response_types_supported"])
	assert.Equal(t, []any{"S256"}, doc["code_challenge_methods_supported"])
}

func TestMetadataPublisher_OmitsRegistrationEndpointWhenDisabled(t *testing.T) {
	t.Parallel()
	p := NewMetadataPublisher(MetadataConfig{Issuer: "https://broker.example", EnableDynamicClientRegistration: false})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	_, present := doc["registration_endpoint"]
	assert.False(t, present)
}
