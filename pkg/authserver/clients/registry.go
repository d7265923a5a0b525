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

package clients

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/mcp-oauth-broker/internal/logger"
)

// Sentinel errors returned by Registry. Registration failures use these
// so the handler layer can map them to the exact OAuth error codes
// spec.md §6 requires without string-matching error text.
var (
	ErrRegistrationDisabled = errors.New("clients: dynamic registration is disabled")
	ErrInvalidRedirectURIs  = errors.New("clients: redirect_uris must be non-empty absolute URIs")
)

// secretByteLength gives generated client secrets >= 256 bits of entropy
// before base64url encoding, per spec.md §4.2.
const secretByteLength = 32

// clientIDByteLength is the entropy behind a generated client_id.
const clientIDByteLength = 16

// Registry implements ClientRegistry (spec.md C2). It is safe for
// concurrent use; pre-registered clients are seeded at construction and
// dynamically registered clients are added at runtime.
type Registry struct {
	mu                  sync.RWMutex
	byID                map[string]*RegisteredClient
	registrationEnabled bool
	defaultScopes       []string
}

// Config configures a Registry at construction time.
type Config struct {
	// EnableDynamicRegistration toggles the RFC 7591 registration
	// endpoint. When false, Register always fails with
	// ErrRegistrationDisabled.
	EnableDynamicRegistration bool

	// DefaultScopes is assigned to dynamically registered clients that
	// do not request a scope.
	DefaultScopes []string
}

// NewRegistry creates a Registry seeded with preRegistered clients.
func NewRegistry(cfg Config, preRegistered ...*RegisteredClient) *Registry {
	r := &Registry{
		byID:                make(map[string]*RegisteredClient),
		registrationEnabled: cfg.EnableDynamicRegistration,
		defaultScopes:       cfg.DefaultScopes,
	}
	for _, c := range preRegistered {
		r.byID[c.ClientID] = c
	}
	return r
}

// Get returns the registered client for clientID, without validating any
// credential. Used by the public-client path where no secret is
// presented at all.
func (r *Registry) Get(_ context.Context, clientID string) (*RegisteredClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[clientID]
	return c, ok
}

// Validate resolves clientID, applying no secret check. Used at
// /authorize, where only the client's existence and redirect URIs matter.
func (r *Registry) Validate(ctx context.Context, clientID string) (*RegisteredClient, bool) {
	return r.Get(ctx, clientID)
}

// ValidateSecret resolves clientID and verifies clientSecret against it.
// A client registered with auth method "none" (a public client) is
// accepted only when clientSecret is empty; a confidential client's
// secret is compared in constant time via bcrypt.
func (r *Registry) ValidateSecret(ctx context.Context, clientID, clientSecret string) (*RegisteredClient, bool) {
	c, ok := r.Get(ctx, clientID)
	if !ok {
		return nil, false
	}

	if c.IsPublic() {
		return c, clientSecret == ""
	}

	if len(c.ClientSecretHash) == 0 {
		// Confidential client with no stored secret can never authenticate.
		return nil, false
	}
	if err := bcrypt.CompareHashAndPassword(c.ClientSecretHash, []byte(clientSecret)); err != nil {
		return nil, false
	}
	return c, true
}

// ValidateRedirectURI reports whether uri is registered for clientID,
// using exact matching for ordinary clients and RFC 8252 loopback
// matching for native clients bound to 127.0.0.1/[::1]/localhost.
func (r *Registry) ValidateRedirectURI(ctx context.Context, clientID, uri string) bool {
	c, ok := r.Get(ctx, clientID)
	if !ok {
		return false
	}
	for _, registered := range c.RedirectURIs {
		if matchesRedirectURI(uri, registered) {
			return true
		}
	}
	return false
}

// Register performs RFC 7591 dynamic client registration: validates the
// request, mints a client_id (and, for confidential clients, a secret),
// and persists the new client. The plaintext secret is returned exactly
// once, in the response.
func (r *Registry) Register(_ context.Context, req RegistrationRequest) (*RegistrationResponse, error) {
	if !r.registrationEnabled {
		return nil, ErrRegistrationDisabled
	}

	if len(req.RedirectURIs) == 0 {
		return nil, ErrInvalidRedirectURIs
	}
	for _, u := range req.RedirectURIs {
		parsed, err := url.Parse(u)
		if err != nil || !parsed.IsAbs() {
			return nil, fmt.Errorf("%w: %q is not an absolute URI", ErrInvalidRedirectURIs, u)
		}
	}

	authMethod := AuthMethod(req.TokenEndpointAuthMethod)
	if authMethod == "" {
		authMethod = AuthMethodClientSecretPost
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{string(GrantAuthorizationCode)}
	}

	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}

	scopes := strings.Fields(req.Scope)
	if len(scopes) == 0 {
		scopes = r.defaultScopes
	}

	clientID, err := randomID(clientIDByteLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client_id: %w", err)
	}

	var plaintextSecret string
	var secretHash []byte
	if authMethod != AuthMethodNone {
		plaintextSecret, err = randomID(secretByteLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate client_secret: %w", err)
		}
		secretHash, err = bcrypt.GenerateFromPassword([]byte(plaintextSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client_secret: %w", err)
		}
	}

	now := time.Now()
	client := &RegisteredClient{
		ClientID:              clientID,
		ClientSecretHash:      secretHash,
		ClientName:            req.ClientName,
		RedirectURIs:          req.RedirectURIs,
		GrantTypes:            grantTypes,
		Scopes:                scopes,
		TokenEndpointAuthMeth: authMethod,
		CreatedAt:             now,
	}

	r.mu.Lock()
	r.byID[clientID] = client
	r.mu.Unlock()

	logger.Infow("registered dynamic OAuth client", "client_id", clientID, "client_name", req.ClientName)

	return &RegistrationResponse{
		ClientID:                clientID,
		ClientSecret:            plaintextSecret,
		ClientIDIssuedAt:        now.Unix(),
		ClientSecretExpiresAt:   0, // never expires
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		TokenEndpointAuthMethod: string(authMethod),
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   strings.Join(scopes, " "),
	}, nil
}

func randomID(n int) (string, error) {
	if n == clientIDByteLength {
		// uuid.NewString gives us a recognizable, collision-resistant
		// client_id without rolling our own random-bytes encoding.
		return strings.ReplaceAll(uuid.NewString(), "-", ""), nil
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
