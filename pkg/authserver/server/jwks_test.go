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

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWKSHandler_ServesPublishedKeySet(t *testing.T) {
	t.Parallel()
	keys := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{KeyID: "test-key", Algorithm: "RS256", Use: "sig"}},
	}
	h := NewJWKSHandler(keys)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/jwks", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got jose.JSONWebKeySet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Keys, 1)
	assert.Equal(t, "test-key", got.Keys[0].KeyID)
}
