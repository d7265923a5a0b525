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

// Package crypto implements PKCE (RFC 7636) verifier/challenge generation
// and verification, plus random state and authorization-code generation,
// for the authorization server.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// MethodS256 is the only code_challenge_method this server accepts.
const MethodS256 = "S256"

// verifierBytes is the amount of entropy used for a code verifier, before
// base64url encoding. 32 bytes encodes to 43 characters, the RFC 7636
// minimum.
const verifierBytes = 32

// stateBytes is the amount of entropy used for a state value.
const stateBytes = 32

// authCodeBytes is the amount of entropy used for a broker-issued
// authorization code. 32 bytes is 256 bits, comfortably above the spec's
// 128-bit minimum.
const authCodeBytes = 32

// GeneratePKCEVerifier generates a cryptographically random code verifier.
// Per RFC 7636, the verifier must be 43-128 characters from the unreserved
// character set; base64url-without-padding over 32 random bytes satisfies
// both constraints.
func GeneratePKCEVerifier() (string, error) {
	return randomURLSafe(verifierBytes)
}

// ComputePKCEChallenge computes the S256 code_challenge for a given
// verifier: base64url(sha256(verifier)), without padding.
func ComputePKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidateVerifier reports whether verifier hashes (S256) to
// expectedChallenge, using a constant-time comparison so that timing does
// not leak how much of the challenge matched.
func ValidateVerifier(verifier, expectedChallenge string) bool {
	if verifier == "" || expectedChallenge == "" {
		return false
	}
	computed := ComputePKCEChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expectedChallenge)) == 1
}

// GenerateState generates a random, URL-safe CSRF state value.
func GenerateState() (string, error) {
	return randomURLSafe(stateBytes)
}

// GenerateAuthorizationCode generates a random, URL-safe broker
// authorization code with at least 128 bits of entropy.
func GenerateAuthorizationCode() (string, error) {
	return randomURLSafe(authCodeBytes)
}

func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
