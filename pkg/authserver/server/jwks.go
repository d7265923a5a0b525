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
	"net/http"

	"github.com/go-jose/go-jose/v4"
)

// JWKSHandler serves the public half of the key(s) TokenService signs
// access tokens with, at the jwks_uri advertised by MetadataPublisher.
// The key set is fixed for the process lifetime, same as
// MetadataPublisher's discovery document.
type JWKSHandler struct {
	keys jose.JSONWebKeySet
}

// NewJWKSHandler builds a JWKSHandler from a token service's public keys.
func NewJWKSHandler(keys jose.JSONWebKeySet) *JWKSHandler {
	return &JWKSHandler{keys: keys}
}

// ServeHTTP implements http.Handler.
func (h *JWKSHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.keys)
}
