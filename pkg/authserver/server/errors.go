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

	"github.com/stacklok/mcp-oauth-broker/internal/logger"
)

// decodeJSONBody decodes r's JSON body into dest, bounding the read so a
// malicious client cannot exhaust memory with an oversized registration
// request.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dest any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dest)
}

const maxRequestBodyBytes = 1 << 20

// OAuthError is the flat JSON error body returned for every 4xx/5xx
// response this server produces.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

func (e *OAuthError) Error() string {
	return e.Code + ": " + e.Description
}

// Recognized error codes, per spec.md §6.
const (
	ErrInvalidRequest          = "invalid_request"
	ErrInvalidClient           = "invalid_client"
	ErrInvalidGrant            = "invalid_grant"
	ErrInvalidScope            = "invalid_scope"
	ErrUnauthorizedClient      = "unauthorized_client"
	ErrUnsupportedGrantType    = "unsupported_grant_type"
	ErrUnsupportedResponseType = "unsupported_response_type"
	ErrAccessDenied            = "access_denied"
	ErrRegistrationNotSupport  = "registration_not_supported"
	ErrServerError             = "server_error"
)

// statusForCode maps an OAuth error code to its HTTP status, per
// spec.md §7's failure taxonomy.
func statusForCode(code string) int {
	switch code {
	case ErrInvalidClient:
		return http.StatusUnauthorized
	case ErrServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeError writes an OAuthError as the HTTP response body, logging at
// the severity spec.md §7 assigns to each error kind.
func writeError(w http.ResponseWriter, code, description string) {
	status := statusForCode(code)

	switch {
	case status >= 500:
		logger.Errorw("oauth error response", "code", code, "description", description)
	case code == ErrInvalidClient || code == ErrInvalidGrant || code == ErrAccessDenied:
		logger.Warnw("oauth error response", "code", code, "description", description)
	default:
		logger.Infow("oauth error response", "code", code, "description", description)
	}

	writeJSON(w, status, &OAuthError{Code: code, Description: description})
}

// writeJSON serializes v as the JSON response body with the given status.
// Encoding failures are logged, never surfaced as a second write (the
// header is already sent).
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("failed to encode JSON response", "error", err)
	}
}
